package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// OutboxStore is the part of Repository the relay needs.
type OutboxStore interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]OutboxItem, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string, next time.Time, dead bool) error
}

// Relay periodically replays outbox items through Deliver.
type Relay struct {
	Store       OutboxStore
	Deliver     func(ctx context.Context, it OutboxItem) error
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Log         *slog.Logger
	now         func() time.Time
}

// Run drains the outbox every Interval until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Second
	}
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger().Warn("outbox relay", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Tick processes one batch and returns how many items were delivered.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	batch := r.BatchSize
	if batch <= 0 {
		batch = 20
	}
	items, err := r.Store.ClaimDue(ctx, batch, time.Minute)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, it := range items {
		if err := r.Deliver(ctx, it); err != nil {
			attempt := it.Attempts + 1
			dead := r.MaxAttempts > 0 && attempt >= r.MaxAttempts
			r.logger().Warn("outbox delivery failed", "id", it.ID, "kind", it.Kind, "attempt", attempt, "dead", dead, "err", err)
			if err := r.Store.MarkFailed(ctx, it.ID, err.Error(), r.clock().Add(Backoff(attempt)), dead); err != nil {
				return delivered, err
			}
			continue
		}
		if err := r.Store.MarkDelivered(ctx, it.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Backoff doubles from 5s per attempt, capped at 30 minutes.
func Backoff(attempt int) time.Duration {
	d := 5 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 30*time.Minute {
			return 30 * time.Minute
		}
	}
	return d
}

func (r *Relay) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Relay) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
