package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"checkin-assistant/internal/llm"
	"checkin-assistant/internal/provider"
	"checkin-assistant/internal/session"
	"checkin-assistant/pkg"
)

var (
	emergencyKeywords = []string{"help", "emergency", "urgent", "bleeding", "chest", "breath", "pain", "911"}
	highTriageLevels  = map[string]bool{"severe": true, "critical": true, "urgent": true}
	locationKeywords  = []string{"location", "share location", "address"}
)

// HasEmergencySignal reports whether a message outside a structured session
// looks like a cry for help.  Photos and voice notes always count.
func HasEmergencySignal(in pkg.InboundMessage) bool {
	t := strings.ToLower(in.Text)
	for _, k := range emergencyKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return in.Media != nil && (in.Media.Kind == pkg.MediaPhoto || in.Media.Kind == pkg.MediaVoice)
}

// Triage runs the single-shot emergency flow and its follow-ups.
type Triage struct {
	Store   session.Store
	Chat    Chat
	Backend Backend
	LLM     *provider.StructuredChain
	// Archive keeps attachments for the care team; optional.
	Archive MediaArchive
	// Alerts announces emergencies; optional.
	Alerts Escalator
	Log    *slog.Logger
}

func (t *Triage) logger() *slog.Logger {
	if t.Log == nil {
		return slog.Default()
	}
	return t.Log
}

// Start classifies the first emergency message and opens an EMERGENCY
// session.  A triage that cannot be parsed still opens the session and asks
// the patient to describe the situation.
func (t *Triage) Start(ctx context.Context, in pkg.InboundMessage) error {
	release := t.Chat.Action(ctx, in.Key, ActionTyping)
	patient := t.lookupPatient(ctx, in.Username)

	var parts []provider.Part
	if in.Text != "" {
		parts = append(parts, provider.TextPart(in.Text))
	}
	var mediaObject string
	if m := in.Media; m != nil && (m.Kind == pkg.MediaPhoto || m.Kind == pkg.MediaVoice) {
		data, err := t.Chat.DownloadMedia(ctx, m)
		if err != nil {
			t.logger().Warn("emergency media download failed", "key", in.Key, "err", err)
		} else {
			mime := "audio/ogg"
			if m.Kind == pkg.MediaPhoto {
				mime = "image/jpeg"
			}
			parts = append(parts, provider.Part{MIME: mime, Data: data})
			mediaObject = t.archive(ctx, in.Key, mime, data)
		}
	}

	var summary pkg.TriageSummary
	raw, err := t.LLM.Invoke(ctx, provider.StructuredRequest{System: TriageSystemPrompt, Parts: parts})
	if err == nil {
		err = json.Unmarshal([]byte(llm.StripCodeFence(string(raw))), &summary)
	}
	release()
	if err != nil {
		t.logger().Error("triage failed", "key", in.Key, "err", err)
		summary = pkg.TriageSummary{}
	}

	now := time.Now()
	rec := &session.Record{
		Key:       in.Key,
		Status:    session.StatusEmergency,
		Patient:   patient,
		Username:  in.Username,
		Emergency: &summary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if patient != nil {
		rec.PatientUserID = patient.UserID
	}
	if err := t.Store.Put(ctx, rec); err != nil {
		return err
	}

	reply := summary.BriefAssessment
	if reply == "" {
		reply = TriageFallback
	}
	if summary.FirstAidAdvice != "" {
		reply += "\n\n**First Aid Advice:**\n" + summary.FirstAidAdvice
	}
	if err := send(ctx, t.Chat, in.Key, reply); err != nil {
		return err
	}

	level := strings.ToLower(strings.TrimSpace(summary.TriageLevel))
	t.escalate(ctx, pkg.Escalation{
		Kind:            pkg.EscalationTriage,
		ConversationKey: in.Key,
		PatientID:       patientID(patient),
		TriageLevel:     level,
		Assessment:      summary.BriefAssessment,
		MediaObject:     mediaObject,
	})
	t.logger().Info("emergency session opened", "key", in.Key, "triage_level", level)
	if highTriageLevels[level] {
		return send(ctx, t.Chat, in.Key, HighAlertMessage)
	}
	return nil
}

// FollowUp handles a message while the conversation is in EMERGENCY.  A
// shared location resolves the session.
func (t *Triage) FollowUp(ctx context.Context, rec *session.Record, in pkg.InboundMessage) error {
	if m := in.Media; m != nil && m.Kind == pkg.MediaLocation {
		if err := send(ctx, t.Chat, in.Key, LocationReceivedMessage); err != nil {
			return err
		}
		ev := pkg.Escalation{
			Kind:            pkg.EscalationLocation,
			ConversationKey: in.Key,
			PatientID:       patientID(rec.Patient),
			Latitude:        m.Latitude,
			Longitude:       m.Longitude,
		}
		if rec.Emergency != nil {
			ev.TriageLevel = strings.ToLower(rec.Emergency.TriageLevel)
			ev.Assessment = rec.Emergency.BriefAssessment
		}
		t.escalate(ctx, ev)
		_, err := t.Store.Delete(ctx, in.Key)
		return err
	}

	text := strings.ToLower(in.Text)
	for _, k := range locationKeywords {
		if strings.Contains(text, k) {
			return send(ctx, t.Chat, in.Key, LocationPromptMessage)
		}
	}
	return send(ctx, t.Chat, in.Key, HoldingMessage)
}

func (t *Triage) lookupPatient(ctx context.Context, username string) *pkg.Patient {
	if t.Backend == nil || username == "" {
		return nil
	}
	ref, err := t.Backend.PatientByUsername(ctx, username)
	if err != nil {
		t.logger().Debug("emergency sender is not a known patient", "username", username, "err", err)
		return nil
	}
	p, err := t.Backend.PatientByID(ctx, ref.ID)
	if err != nil {
		t.logger().Warn("emergency patient fetch failed", "patient_id", ref.ID, "err", err)
		return nil
	}
	return p
}

func (t *Triage) archive(ctx context.Context, key, mime string, data []byte) string {
	if t.Archive == nil {
		return ""
	}
	obj, err := t.Archive.PutMedia(ctx, key, mime, data)
	if err != nil {
		t.logger().Warn("emergency media not archived", "key", key, "err", err)
		return ""
	}
	return obj
}

func (t *Triage) escalate(ctx context.Context, ev pkg.Escalation) {
	if t.Alerts == nil {
		return
	}
	if err := t.Alerts.Escalate(ctx, ev); err != nil {
		t.logger().Error("escalation failed", "key", ev.ConversationKey, "kind", ev.Kind, "err", err)
	}
}

func patientID(p *pkg.Patient) string {
	if p == nil {
		return ""
	}
	return p.ID
}
