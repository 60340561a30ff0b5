package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"checkin-assistant/internal/config"
	"checkin-assistant/internal/provider"
	"checkin-assistant/internal/session"
)

// StepFunc feeds one transcript into the Q&A engine as the answer to the
// question at index.
type StepFunc func(ctx context.Context, key string, index int, answer string) error

// CallRunner asks a session's questions over a live call and hands the
// transcripts to Step.  It only reads session records.
type CallRunner struct {
	Store  session.Store
	Chat   Chat
	Voice  Voice
	STT    *provider.STTChain
	TTS    *provider.TTSChain
	Step   StepFunc
	Timing config.CallTiming
	Log    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	wg    sync.WaitGroup
}

// ListenWindow is how long to listen after prompt is played:
// base + len(prompt)*perChar, clamped to [min, max].
func ListenWindow(prompt string, t config.CallTiming) time.Duration {
	w := t.ListenBase + time.Duration(utf8.RuneCountInString(prompt))*t.ListenPerChar
	if w > t.ListenMax {
		w = t.ListenMax
	}
	if w < t.ListenMin {
		w = t.ListenMin
	}
	return w
}

// Start claims the session's runner flag, places the call and runs the
// loop in the background.  It returns an error when the call could not be
// placed so the caller can fall back to chat delivery.
func (r *CallRunner) Start(ctx context.Context, key, username string) error {
	ok, err := session.AcquireCallRunner(ctx, r.Store, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.Voice.PlaceCall(ctx, username); err != nil {
		if rerr := session.ReleaseCallRunner(ctx, r.Store, key); rerr != nil {
			r.logger().Error("release call runner", "key", key, "err", rerr)
		}
		return fmt.Errorf("place call to %s: %w", username, err)
	}
	r.logger().Info("call placed", "key", key, "username", username)

	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(ctx, key, username)
	}()
	return nil
}

// Wait blocks until every running loop has returned.
func (r *CallRunner) Wait() { r.wg.Wait() }

// Run asks questions until the session leaves IN_QNA, runs out of
// questions, or MaxFailures consecutive prompts go unanswered.  The record
// is re-read before each prompt and after each listen so a session ended by
// text in the meantime stops the loop without further messages.
func (r *CallRunner) Run(ctx context.Context, key, username string) {
	defer func() {
		ctx := context.WithoutCancel(ctx)
		if err := r.Voice.EndCall(ctx, username); err != nil {
			r.logger().Warn("end call failed", "key", key, "err", err)
		}
		if err := session.ReleaseCallRunner(ctx, r.Store, key); err != nil {
			r.logger().Error("release call runner", "key", key, "err", err)
		}
	}()

	maxFailures := r.Timing.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	failures := 0
	for ctx.Err() == nil {
		rec, err := r.Store.Get(ctx, key)
		if err != nil || rec.Status != session.StatusInQnA {
			return
		}
		q, ok := rec.Current()
		if !ok {
			return
		}

		transcript, err := r.Ask(ctx, username, q.Text)
		if !r.live(ctx, key) {
			r.logger().Info("session ended during listen", "key", key, "index", rec.Index)
			return
		}
		if err != nil {
			failures++
			r.logger().Warn("no answer heard", "key", key, "index", rec.Index, "failures", failures, "err", err)
			r.notify(ctx, key, CallRetryMessage)
			if failures >= maxFailures {
				r.notify(ctx, key, CallAbandonMessage)
				r.notify(ctx, key, q.Text)
				return
			}
			if r.pause(ctx, r.Timing.FailurePause) != nil {
				return
			}
			continue
		}

		failures = 0
		if err := r.Step(ctx, key, rec.Index, transcript); err != nil {
			r.logger().Error("call answer not processed", "key", key, "err", err)
		}
		if r.pause(ctx, r.Timing.SuccessPause) != nil {
			return
		}
	}
}

// Ask plays prompt on the call and returns the transcribed reply.
func (r *CallRunner) Ask(ctx context.Context, username, prompt string) (string, error) {
	audio, err := r.TTS.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := r.Voice.PlayAudio(ctx, username, audio, audioMIME(audio)); err != nil {
		return "", errors.Join(ErrTransportSendFailed, err)
	}
	reply, mime, err := r.Voice.CaptureAudio(ctx, username, ListenWindow(prompt, r.Timing))
	if err != nil {
		return "", err
	}
	if len(reply) == 0 {
		return "", provider.ErrTranscriptionEmpty
	}
	text, err := r.STT.Invoke(ctx, provider.STTRequest{Audio: reply, MIME: mime})
	if err != nil {
		return "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", provider.ErrTranscriptionEmpty
	}
	return text, nil
}

// live reports whether the session at key is still asking questions.
func (r *CallRunner) live(ctx context.Context, key string) bool {
	rec, err := r.Store.Get(ctx, key)
	return err == nil && rec.Status == session.StatusInQnA
}

func (r *CallRunner) notify(ctx context.Context, key, text string) {
	if err := send(ctx, r.Chat, key, text); err != nil {
		r.logger().Warn("chat notice failed", "key", key, "err", err)
	}
}

func (r *CallRunner) pause(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *CallRunner) logger() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}

// audioMIME tells Ogg/Opus from MP3, the two formats the synthesizers emit.
func audioMIME(b []byte) string {
	switch {
	case bytes.HasPrefix(b, []byte("OggS")):
		return "audio/ogg"
	case bytes.HasPrefix(b, []byte("RIFF")):
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}
