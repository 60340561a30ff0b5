package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkin-assistant/internal/session"
	"checkin-assistant/pkg"
)

// StartOptions describe a check-in about to begin.
type StartOptions struct {
	Key      string
	Username string
	History  *pkg.PatientHistory
	// CheckinID is reused when set; otherwise a backend check-in is started.
	CheckinID string
	// Intro overrides the generated opening line.
	Intro string
	Mode  session.DeliveryMode
}

// TriggerResult reports who a triggered check-in went to.
type TriggerResult struct {
	PatientID string
	Username  string
	Key       string
	Mode      session.DeliveryMode
	Consent   bool
}

// StartSession generates the questions, registers them with the backend and
// opens the Q&A.  Without questions no record is created and the patient is
// told the check-in cannot start.
func (e *Engine) StartSession(ctx context.Context, opts StartOptions) error {
	p := opts.History.Patient
	release := e.Chat.Action(ctx, opts.Key, ActionTyping)
	questions, genErr := e.Questions.Generate(ctx, opts.History)
	release()

	checkinID := opts.CheckinID
	if checkinID == "" {
		id, err := e.Backend.StartCheckin(ctx, p.ID)
		if err != nil {
			e.logger().Error("start check-in failed", "patient_id", p.ID, "err", fmt.Errorf("%w: %v", ErrBackendSyncFailed, err))
		}
		checkinID = id
	}

	if len(questions) == 0 {
		if err := send(ctx, e.Chat, opts.Key, NoQuestionsMessage); err != nil {
			return errors.Join(genErr, err)
		}
		if genErr == nil {
			genErr = ErrGenerationParseFailed
		}
		return genErr
	}

	if checkinID != "" {
		items := make([]pkg.QuestionItem, 0, len(questions))
		for _, q := range questions {
			items = append(items, pkg.QuestionItem{Text: q.Text, Seq: q.Seq, Category: q.Category})
		}
		e.sync(ctx, OutboxQuestions, checkinID, items, func(ctx context.Context) error {
			return e.Backend.PostQuestions(ctx, checkinID, items)
		})
	}

	now := e.clock()
	rec := &session.Record{
		Key:           opts.Key,
		Status:        session.StatusInQnA,
		Patient:       p,
		Questions:     questions,
		CheckinID:     checkinID,
		PatientUserID: p.UserID,
		Username:      opts.Username,
		DeliveryMode:  opts.Mode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Store.Put(ctx, rec); err != nil {
		return err
	}
	e.logger().Info("check-in started", "key", opts.Key, "checkin_id", checkinID,
		"questions", len(questions), "mode", opts.Mode)

	intro := opts.Intro
	if intro == "" {
		var err error
		if intro, err = e.Questions.Intro(ctx, p); err != nil {
			e.logger().Warn("intro generation failed", "key", opts.Key, "err", err)
		}
	}
	if err := send(ctx, e.Chat, opts.Key, intro); err != nil {
		return err
	}

	if opts.Mode == session.ModeCall && e.Calls != nil && opts.Username != "" {
		err := e.Calls.Start(ctx, opts.Key, opts.Username)
		if err == nil {
			return nil
		}
		e.logger().Warn("call unavailable, delivering in chat", "key", opts.Key, "err", err)
	}
	return e.Deliver(ctx, rec, questions[0].Text)
}

// Trigger starts a check-in for a patient id on request of an external
// caller.  With consent set the patient is asked first and the Q&A begins
// once they agree.
func (e *Engine) Trigger(ctx context.Context, patientID string, mode session.DeliveryMode, consent bool) (TriggerResult, error) {
	res := TriggerResult{PatientID: patientID, Mode: mode, Consent: consent}
	h, err := e.Backend.PatientWithHistory(ctx, patientID)
	if err != nil {
		return res, fmt.Errorf("fetch patient %s: %w", patientID, err)
	}
	username := strings.TrimPrefix(strings.TrimSpace(h.Patient.User.TelegramUsername), "@")
	if username == "" {
		return res, ErrNoUsername
	}
	res.Username = "@" + username

	key, err := e.Chat.ResolveKey(ctx, username)
	if err != nil {
		return res, fmt.Errorf("resolve @%s: %w", username, err)
	}
	res.Key = key

	err = e.serial(ctx, key, func(ctx context.Context) error {
		rec, err := e.Store.Get(ctx, key)
		switch {
		case err == nil && rec.Status != session.StatusAwaitingConsent:
			return fmt.Errorf("%w: %s", ErrSessionActive, rec.Status)
		case err != nil && !errors.Is(err, session.ErrNotFound):
			return err
		}

		if consent {
			now := e.clock()
			if err := e.Store.Put(ctx, &session.Record{
				Key:           key,
				Status:        session.StatusAwaitingConsent,
				Patient:       h.Patient,
				PatientUserID: h.Patient.UserID,
				Username:      username,
				DeliveryMode:  mode,
				CreatedAt:     now,
				UpdatedAt:     now,
			}); err != nil {
				return err
			}
			return send(ctx, e.Chat, key, ConsentPrompt)
		}

		checkinID, err := e.activeCheckin(ctx, h.Patient)
		if err != nil {
			return err
		}
		return e.StartSession(ctx, StartOptions{
			Key:       key,
			Username:  username,
			History:   h,
			CheckinID: checkinID,
			Mode:      mode,
		})
	})
	return res, err
}

// Consent handles a "yes" to the consent prompt.  The sender's username
// links the chat to a patient file.
func (e *Engine) Consent(ctx context.Context, rec *session.Record, in pkg.InboundMessage) error {
	username := strings.TrimPrefix(in.Username, "@")
	if username == "" {
		return send(ctx, e.Chat, in.Key, UsernameRequired)
	}
	ref, err := e.Backend.PatientByUsername(ctx, username)
	if err != nil {
		e.logger().Error("consent: patient lookup failed", "key", in.Key, "username", username, "err", err)
		return send(ctx, e.Chat, in.Key, IdentityErrorMessage)
	}
	h, err := e.Backend.PatientWithHistory(ctx, ref.ID)
	if err != nil {
		e.logger().Error("consent: patient history failed", "key", in.Key, "patient_id", ref.ID, "err", err)
		return send(ctx, e.Chat, in.Key, IdentityErrorMessage)
	}
	checkinID, err := e.activeCheckin(ctx, h.Patient)
	if err != nil {
		e.logger().Error("consent: no check-in id", "key", in.Key, "err", err)
	}
	mode := session.ModeText
	if rec != nil && rec.DeliveryMode != "" {
		mode = rec.DeliveryMode
	}
	return e.StartSession(ctx, StartOptions{
		Key:       in.Key,
		Username:  username,
		History:   h,
		CheckinID: checkinID,
		Mode:      mode,
	})
}

// activeCheckin reuses the patient's open backend check-in or starts one.
func (e *Engine) activeCheckin(ctx context.Context, p *pkg.Patient) (string, error) {
	id, err := e.Backend.ActiveCheckin(ctx, p.UserID)
	if err != nil {
		e.logger().Warn("active check-in lookup failed", "patient_id", p.ID, "err", err)
	}
	if id != "" {
		return id, nil
	}
	id, err = e.Backend.StartCheckin(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("%w: start check-in: %v", ErrBackendSyncFailed, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: could not obtain check-in session id", ErrBackendSyncFailed)
	}
	return id, nil
}

func (e *Engine) serial(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if e.Serial == nil {
		return fn(ctx)
	}
	return e.Serial.Do(ctx, key, fn)
}
