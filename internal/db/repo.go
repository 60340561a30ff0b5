package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkin-assistant/pkg"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("db: not found")

// OutboxItem is a backend write waiting to be replayed.
type OutboxItem struct {
	ID       uuid.UUID
	Kind     string
	Target   string
	Payload  json.RawMessage
	Attempts int
}

// Repository wraps the outbox, emergency and chat directory tables.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

// Enqueue stores a failed backend write.  payload is marshalled to JSON.
func (r *Repository) Enqueue(ctx context.Context, kind, target string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal %s: %w", kind, err)
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO backend_outbox (id, kind, target, payload)
         VALUES ($1, $2, $3, $4)`,
		uuid.New(), kind, target, b,
	)
	return err
}

// ClaimDue leases up to limit due items for lease so concurrent relays do
// not pick the same rows.
func (r *Repository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]OutboxItem, error) {
	rows, err := r.DB.QueryContext(ctx,
		`UPDATE backend_outbox
         SET next_attempt_at = now() + make_interval(secs => $2)
         WHERE id IN (
             SELECT id FROM backend_outbox
             WHERE delivered_at IS NULL AND NOT dead AND next_attempt_at <= now()
             ORDER BY next_attempt_at
             LIMIT $1
             FOR UPDATE SKIP LOCKED)
         RETURNING id, kind, target, payload, attempts`,
		limit, lease.Seconds(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OutboxItem
	for rows.Next() {
		var it OutboxItem
		var payload []byte
		if err := rows.Scan(&it.ID, &it.Kind, &it.Target, &payload, &it.Attempts); err != nil {
			return nil, err
		}
		it.Payload = payload
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE backend_outbox SET delivered_at = now(), attempts = attempts + 1 WHERE id = $1`, id)
	return err
}

// MarkFailed records a failed replay.  dead items are never retried.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, cause string, next time.Time, dead bool) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE backend_outbox
         SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3, dead = $4
         WHERE id = $1`,
		id, cause, next, dead,
	)
	return err
}

// Pending counts undelivered, live items.
func (r *Repository) Pending(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM backend_outbox WHERE delivered_at IS NULL AND NOT dead`).Scan(&n)
	return n, err
}

// RecordEmergency stores an emergency event and returns its id.
func (r *Repository) RecordEmergency(ctx context.Context, e pkg.Escalation) (uuid.UUID, error) {
	id := uuid.New()
	var lat, lon sql.NullFloat64
	if e.Kind == pkg.EscalationLocation {
		lat = sql.NullFloat64{Float64: e.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: e.Longitude, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO emergency_events
             (id, kind, conversation_key, patient_id, triage_level, assessment, media_object, latitude, longitude)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, e.Kind, e.ConversationKey, e.PatientID, e.TriageLevel, e.Assessment, e.MediaObject, lat, lon,
	)
	return id, err
}

// Remember maps a chat username to its conversation key.
func (r *Repository) Remember(ctx context.Context, username, key string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO chat_directory (username, chat_key) VALUES ($1, $2)
         ON CONFLICT (username) DO UPDATE SET chat_key = EXCLUDED.chat_key, updated_at = now()`,
		normalizeUsername(username), key,
	)
	return err
}

// Lookup returns the conversation key last seen for username.
func (r *Repository) Lookup(ctx context.Context, username string) (string, error) {
	var key string
	err := r.DB.QueryRowContext(ctx,
		`SELECT chat_key FROM chat_directory WHERE username = $1`, normalizeUsername(username)).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return key, err
}

func normalizeUsername(u string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
}
