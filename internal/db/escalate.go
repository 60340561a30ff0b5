package db

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"checkin-assistant/pkg"
)

// EmergencyStore persists emergency events.  *Repository implements it.
type EmergencyStore interface {
	RecordEmergency(ctx context.Context, e pkg.Escalation) (uuid.UUID, error)
}

// Announcer publishes a payload to listeners.  *Notifier implements it.
type Announcer interface {
	Notify(ctx context.Context, payload string) error
}

// Escalations stores emergency events and announces them on the notify
// channel.
type Escalations struct {
	Repo     EmergencyStore
	Notifier Announcer
	Log      *slog.Logger
}

// Escalate records e and sends its id and summary as a NOTIFY payload.
func (e *Escalations) Escalate(ctx context.Context, ev pkg.Escalation) error {
	id, err := e.Repo.RecordEmergency(ctx, ev)
	if err != nil {
		return err
	}
	if e.Notifier == nil {
		return nil
	}
	payload, err := json.Marshal(struct {
		ID string `json:"id"`
		pkg.Escalation
	}{ID: id.String(), Escalation: ev})
	if err != nil {
		return err
	}
	if err := e.Notifier.Notify(ctx, string(payload)); err != nil {
		// the event is stored; the dashboard picks it up on its next refresh
		if e.Log != nil {
			e.Log.Warn("emergency notify failed", "id", id, "err", err)
		}
	}
	return nil
}
