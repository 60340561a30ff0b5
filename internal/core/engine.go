package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"checkin-assistant/internal/provider"
	"checkin-assistant/internal/session"
	"checkin-assistant/pkg"
)

// Outbox kinds for backend writes that failed.
const (
	OutboxQuestions  = "questions"
	OutboxAnswers    = "answers"
	OutboxEndCheckin = "end_checkin"
	OutboxAnalysis   = "analysis"
)

var errStaleIndex = errors.New("core: answer index moved")

// Engine runs the Q&A state machine.  It is the only writer of a record's
// index, answers and status.
type Engine struct {
	Store      session.Store
	Chat       Chat
	Backend    Backend
	Questions  *QuestionGenerator
	Summarizer *Summarizer
	// TTS voices prompts in call mode when no live call is running.
	TTS *provider.TTSChain
	// Calls drives call-mode sessions; nil disables live calls.
	Calls *CallRunner
	// Outbox keeps failed backend writes; nil means log and drop.
	Outbox Outbox
	// Serial orders work per conversation key; nil runs inline.
	Serial Serializer
	Log    *slog.Logger
	now    func() time.Time
}

func (e *Engine) logger() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// AnswerAt records text as the answer to question index on the key's serial
// queue.  An answer for an index the session already moved past, or for a
// session that has ended, is dropped.
// It is the step function handed to the call runner.
func (e *Engine) AnswerAt(ctx context.Context, key string, index int, text string) error {
	run := func(ctx context.Context) error { return e.handle(ctx, key, index, text) }
	if e.Serial == nil {
		return run(ctx)
	}
	return e.Serial.Do(ctx, key, run)
}

// IsTermination reports whether text asks to stop the check-in.
func IsTermination(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "end") || strings.Contains(t, "stop") || strings.Contains(t, "bye")
}

// HandleAnswer consumes one patient answer for the conversation at key.
func (e *Engine) HandleAnswer(ctx context.Context, key, text string) error {
	return e.handle(ctx, key, -1, text)
}

func (e *Engine) handle(ctx context.Context, key string, expect int, text string) error {
	rec, err := e.Store.Get(ctx, key)
	gone := errors.Is(err, session.ErrNotFound) || (err == nil && rec.Status != session.StatusInQnA)
	if gone && expect >= 0 {
		e.logger().Info("answer dropped, session ended", "key", key, "index", expect)
		return nil
	}
	if gone {
		if err := send(ctx, e.Chat, key, SessionLostMessage); err != nil {
			return err
		}
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if expect >= 0 && rec.Index != expect {
		e.logger().Warn("answer dropped", "key", key, "index", expect, "current", rec.Index)
		return nil
	}

	if IsTermination(text) {
		if _, err := e.Store.Delete(ctx, key); err != nil {
			return err
		}
		e.logger().Info("check-in stopped by patient", "key", key, "checkin_id", rec.CheckinID, "answered", rec.Index)
		return send(ctx, e.Chat, key, TerminationMessage)
	}

	if !rec.Done() {
		idx := rec.Index
		q := rec.Questions[idx]
		answer := pkg.Answer{Seq: q.Seq, Category: q.Category, Question: q.Text, Answer: text}
		rec, err = e.Store.Update(ctx, key, func(r *session.Record) error {
			if r.Index != idx || r.Status != session.StatusInQnA {
				return errStaleIndex
			}
			r.Answers = append(r.Answers, answer)
			r.Index = idx + 1
			r.UpdatedAt = e.clock()
			return nil
		})
		switch {
		case errors.Is(err, errStaleIndex), errors.Is(err, session.ErrNotFound):
			e.logger().Warn("answer dropped", "key", key, "index", idx, "err", err)
			return nil
		case err != nil:
			return err
		}
		if rec.CheckinID != "" {
			items := []pkg.AnswerItem{{Seq: answer.Seq, Answer: text}}
			e.sync(ctx, OutboxAnswers, rec.CheckinID, items, func(ctx context.Context) error {
				return e.Backend.PostAnswers(ctx, rec.CheckinID, items)
			})
		}
	}

	if q, ok := rec.Current(); ok {
		return e.Deliver(ctx, rec, q.Text)
	}
	return e.finish(ctx, rec)
}

// finish summarizes a completed check-in and removes its record.
func (e *Engine) finish(ctx context.Context, rec *session.Record) error {
	release := e.Chat.Action(ctx, rec.Key, ActionTyping)
	note, err := e.Summarizer.Summarize(ctx, rec.Patient, rec.Answers)
	release()
	if err != nil {
		e.logger().Error("summary failed, using fallback", "key", rec.Key, "checkin_id", rec.CheckinID, "err", err)
	}

	var first, risk string
	if rec.Patient != nil {
		first, risk = rec.Patient.User.FirstName, rec.Patient.RiskLevel
	}
	assessment := AssessRisk(risk)
	sendErr := send(ctx, e.Chat, rec.Key, ComposeReply(note, first, assessment))
	if sendErr != nil {
		e.logger().Error("final reply not delivered", "key", rec.Key, "err", sendErr)
	}

	if rec.PatientUserID != "" {
		e.sync(ctx, OutboxEndCheckin, rec.PatientUserID, nil, func(ctx context.Context) error {
			return e.Backend.EndCheckin(ctx, rec.PatientUserID)
		})
	}
	if rec.CheckinID != "" {
		analysis := BuildAnalysis(note, assessment)
		e.sync(ctx, OutboxAnalysis, rec.CheckinID, analysis, func(ctx context.Context) error {
			return e.Backend.PatchAnalysis(ctx, rec.CheckinID, analysis)
		})
	}

	if _, err := e.Store.Delete(ctx, rec.Key); err != nil {
		return err
	}
	e.logger().Info("check-in complete", "key", rec.Key, "checkin_id", rec.CheckinID,
		"answers", len(rec.Answers), "severity", assessment.Severity)
	return sendErr
}

// Deliver sends a prompt the way the record's delivery mode asks.  In call
// mode with a live call the runner asks it, so nothing is sent here; without
// one the prompt goes out as a voice note followed by the text.
func (e *Engine) Deliver(ctx context.Context, rec *session.Record, text string) error {
	if text == "" {
		return nil
	}
	switch rec.DeliveryMode {
	case session.ModeCall:
		if rec.CallRunnerActive {
			return nil
		}
		e.sendVoice(ctx, rec.Key, text)
		return send(ctx, e.Chat, rec.Key, text)
	default:
		release := e.Chat.Action(ctx, rec.Key, ActionTyping)
		defer release()
		return send(ctx, e.Chat, rec.Key, text)
	}
}

// sendVoice is best effort; the text that follows is the fallback.
func (e *Engine) sendVoice(ctx context.Context, key, text string) {
	if e.TTS == nil {
		return
	}
	audio, err := e.TTS.Invoke(ctx, text)
	if err != nil {
		e.logger().Warn("voice prompt synthesis failed", "key", key, "err", err)
		return
	}
	release := e.Chat.Action(ctx, key, ActionRecordVoice)
	defer release()
	if err := e.Chat.SendVoice(ctx, key, audio); err != nil {
		e.logger().Warn("voice prompt not delivered", "key", key, "err", err)
	}
}

// sync runs a backend write.  Failures never reach the patient: they are
// logged and, when an outbox is configured, queued for replay.
func (e *Engine) sync(ctx context.Context, kind, target string, payload any, call func(ctx context.Context) error) {
	err := call(ctx)
	if err == nil {
		return
	}
	err = fmt.Errorf("%w: %s: %v", ErrBackendSyncFailed, kind, err)
	if e.Outbox == nil {
		e.logger().Error("backend write lost", "kind", kind, "target", target, "err", err)
		return
	}
	if qerr := e.Outbox.Enqueue(ctx, kind, target, payload); qerr != nil {
		e.logger().Error("backend write lost", "kind", kind, "target", target, "err", err, "outbox_err", qerr)
		return
	}
	e.logger().Warn("backend write queued", "kind", kind, "target", target, "err", err)
}

// Replay performs a queued backend write.
func Replay(ctx context.Context, b Backend, kind, target string, payload json.RawMessage) error {
	switch kind {
	case OutboxQuestions:
		var items []pkg.QuestionItem
		if err := json.Unmarshal(payload, &items); err != nil {
			return err
		}
		return b.PostQuestions(ctx, target, items)
	case OutboxAnswers:
		var items []pkg.AnswerItem
		if err := json.Unmarshal(payload, &items); err != nil {
			return err
		}
		return b.PostAnswers(ctx, target, items)
	case OutboxEndCheckin:
		return b.EndCheckin(ctx, target)
	case OutboxAnalysis:
		var a pkg.Analysis
		if err := json.Unmarshal(payload, &a); err != nil {
			return err
		}
		return b.PatchAnalysis(ctx, target, a)
	}
	return fmt.Errorf("outbox: unknown kind %q", kind)
}
