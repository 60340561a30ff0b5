// Package session keeps the per-conversation check-in state.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"checkin-assistant/pkg"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("session: not found")

// Status is the lifecycle state of a conversation.  A finished conversation
// has no record at all.
type Status int

const (
	StatusAwaitingConsent Status = iota + 1
	StatusInQnA
	StatusEmergency
)

func (s Status) String() string {
	switch s {
	case StatusAwaitingConsent:
		return "AWAITING_CONSENT"
	case StatusInQnA:
		return "IN_QNA"
	case StatusEmergency:
		return "EMERGENCY"
	}
	return "UNKNOWN"
}

// DeliveryMode selects how questions reach the patient.
type DeliveryMode string

const (
	ModeText DeliveryMode = "text"
	ModeCall DeliveryMode = "call"
)

// ParseDeliveryMode maps any value other than "call" to ModeText.
func ParseDeliveryMode(s string) DeliveryMode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeCall)) {
		return ModeCall
	}
	return ModeText
}

// Record is the state of one conversation.
type Record struct {
	Key              string
	Status           Status
	Patient          *pkg.Patient
	Questions        []pkg.Question
	Index            int
	Answers          []pkg.Answer
	CheckinID        string
	PatientUserID    string
	Username         string
	DeliveryMode     DeliveryMode
	CallRunnerActive bool
	Emergency        *pkg.TriageSummary
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Current returns the question at Index.
func (r *Record) Current() (pkg.Question, bool) {
	if r.Index < 0 || r.Index >= len(r.Questions) {
		return pkg.Question{}, false
	}
	return r.Questions[r.Index], true
}

// Done reports whether every question has been answered.
func (r *Record) Done() bool { return r.Index >= len(r.Questions) }

// Clone returns a deep copy.  Patient and Emergency are shared; both are
// read-only once set.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Questions = append([]pkg.Question(nil), r.Questions...)
	c.Answers = append([]pkg.Answer(nil), r.Answers...)
	return &c
}

// Store holds one record per conversation key.  Implementations must be
// safe for concurrent use; Update on the same key is atomic.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	// Update applies fn to the stored record and saves the result.  If fn
	// returns an error nothing is saved.
	Update(ctx context.Context, key string, fn func(*Record) error) (*Record, error)
	// Delete removes the record and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
}

var errRunnerActive = errors.New("session: call runner already active")

// AcquireCallRunner sets CallRunnerActive on the record and reports whether
// the caller won the flag.  It returns false without error when another
// runner already holds it.
func AcquireCallRunner(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Update(ctx, key, func(r *Record) error {
		if r.CallRunnerActive {
			return errRunnerActive
		}
		r.CallRunnerActive = true
		return nil
	})
	switch {
	case errors.Is(err, errRunnerActive):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ReleaseCallRunner clears CallRunnerActive if the record still exists.
func ReleaseCallRunner(ctx context.Context, s Store, key string) error {
	_, err := s.Update(ctx, key, func(r *Record) error {
		r.CallRunnerActive = false
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
