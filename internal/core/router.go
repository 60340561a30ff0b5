package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"checkin-assistant/internal/provider"
	"checkin-assistant/internal/session"
	"checkin-assistant/pkg"
)

var consentWords = []string{"yes", "ready", "ok"}

// Router sends each inbound message to the flow its conversation is in.
// Calls for one key must not overlap; run Handle through a Dispatcher.
type Router struct {
	Store  session.Store
	Chat   Chat
	Engine *Engine
	Triage *Triage
	// STT transcribes voice-note answers; optional.
	STT *provider.STTChain
	Log *slog.Logger
}

func (r *Router) logger() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}

// Handle routes one message.  Structured sessions take priority; emergency
// detection only runs when the conversation has none.
func (r *Router) Handle(ctx context.Context, in pkg.InboundMessage) error {
	rec, err := r.Store.Get(ctx, in.Key)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	if rec == nil {
		if HasEmergencySignal(in) {
			return r.Triage.Start(ctx, in)
		}
		return send(ctx, r.Chat, in.Key, DefaultMessage)
	}

	switch rec.Status {
	case session.StatusAwaitingConsent:
		text, ok := r.answerText(ctx, in)
		if !ok {
			return nil
		}
		if !isConsent(text) {
			return send(ctx, r.Chat, in.Key, ConsentPrompt)
		}
		if in.Username == "" {
			in.Username = rec.Username
		}
		return r.Engine.Consent(ctx, rec, in)
	case session.StatusInQnA:
		text, ok := r.answerText(ctx, in)
		if !ok {
			return nil
		}
		return r.Engine.HandleAnswer(ctx, in.Key, text)
	case session.StatusEmergency:
		return r.Triage.FollowUp(ctx, rec, in)
	default:
		return fmt.Errorf("route %s: unknown session status %d", in.Key, rec.Status)
	}
}

// answerText returns the message text, transcribing a voice note when the
// message has no text.  It reports false after telling the patient the
// note could not be understood.
func (r *Router) answerText(ctx context.Context, in pkg.InboundMessage) (string, bool) {
	if in.Text != "" {
		return in.Text, true
	}
	if in.Media == nil || in.Media.Kind != pkg.MediaVoice || r.STT == nil {
		_ = send(ctx, r.Chat, in.Key, TextAnswerMessage)
		return "", false
	}
	audio, err := r.Chat.DownloadMedia(ctx, in.Media)
	if err == nil {
		var text string
		text, err = r.STT.Invoke(ctx, provider.STTRequest{Audio: audio, MIME: in.Media.MIME})
		if text = strings.TrimSpace(text); err == nil && text != "" {
			return text, true
		}
	}
	r.logger().Warn("voice answer not transcribed", "key", in.Key, "err", err)
	_ = send(ctx, r.Chat, in.Key, CallRetryMessage)
	return "", false
}

func isConsent(text string) bool {
	t := strings.ToLower(text)
	for _, w := range consentWords {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}
