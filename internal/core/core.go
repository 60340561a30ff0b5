// Package core runs the check-in conversations: question generation, the
// Q&A state machine, summaries, the voice call loop and emergency triage.
package core

import (
	"context"
	"errors"
	"time"

	"checkin-assistant/pkg"
)

var (
	ErrGenerationParseFailed = errors.New("core: generated output could not be parsed")
	ErrBackendSyncFailed     = errors.New("core: backend sync failed")
	ErrTransportSendFailed   = errors.New("core: transport send failed")
	ErrSessionNotFound       = errors.New("core: session not found")
	ErrSessionActive         = errors.New("core: a session is already active")
	ErrNoUsername            = errors.New("core: patient has no chat username")
)

// Chat indicator actions.
const (
	ActionTyping      = "typing"
	ActionRecordVoice = "record_voice"
)

// Chat is the patient messaging channel.  Keys are conversation keys.
type Chat interface {
	SendMessage(ctx context.Context, key, text string) error
	SendVoice(ctx context.Context, key string, audio []byte) error
	DownloadMedia(ctx context.Context, m *pkg.Media) ([]byte, error)
	// Action shows an indicator until release is called.
	Action(ctx context.Context, key, action string) (release func())
	// ResolveKey maps a chat username to its conversation key.
	ResolveKey(ctx context.Context, username string) (string, error)
}

// Voice places live calls and moves audio in and out of them.
type Voice interface {
	PlaceCall(ctx context.Context, username string) error
	PlayAudio(ctx context.Context, username string, audio []byte, mime string) error
	CaptureAudio(ctx context.Context, username string, listen time.Duration) ([]byte, string, error)
	EndCall(ctx context.Context, username string) error
}

// Backend is the patient record service.
type Backend interface {
	PatientByUsername(ctx context.Context, username string) (*pkg.PatientRef, error)
	PatientByID(ctx context.Context, id string) (*pkg.Patient, error)
	PatientWithHistory(ctx context.Context, id string) (*pkg.PatientHistory, error)
	StartCheckin(ctx context.Context, patientID string) (string, error)
	ActiveCheckin(ctx context.Context, patientUserID string) (string, error)
	PostQuestions(ctx context.Context, checkinID string, items []pkg.QuestionItem) error
	PostAnswers(ctx context.Context, checkinID string, items []pkg.AnswerItem) error
	EndCheckin(ctx context.Context, patientUserID string) error
	PatchAnalysis(ctx context.Context, checkinID string, a pkg.Analysis) error
}

// Outbox keeps backend writes that failed so they can be replayed.
type Outbox interface {
	Enqueue(ctx context.Context, kind, target string, payload any) error
}

// MediaArchive stores emergency attachments and returns an object key.
type MediaArchive interface {
	PutMedia(ctx context.Context, conversation, mime string, data []byte) (string, error)
}

// Escalator announces emergency events to the care team.
type Escalator interface {
	Escalate(ctx context.Context, e pkg.Escalation) error
}

// Serializer runs fn on the worker that owns key.
type Serializer interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// send delivers text and wraps transport failures.
func send(ctx context.Context, c Chat, key, text string) error {
	if err := c.SendMessage(ctx, key, text); err != nil {
		return errors.Join(ErrTransportSendFailed, err)
	}
	return nil
}
