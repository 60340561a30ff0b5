package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failed struct {
	next time.Time
	dead bool
}

type fakeOutbox struct {
	due       []OutboxItem
	delivered []uuid.UUID
	failed    map[uuid.UUID]failed
}

func (f *fakeOutbox) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]OutboxItem, error) {
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(ctx context.Context, id uuid.UUID, cause string, next time.Time, dead bool) error {
	if f.failed == nil {
		f.failed = map[uuid.UUID]failed{}
	}
	f.failed[id] = failed{next: next, dead: dead}
	return nil
}

func TestRelayTick(t *testing.T) {
	ok, bad, last := uuid.New(), uuid.New(), uuid.New()
	store := &fakeOutbox{due: []OutboxItem{
		{ID: ok, Kind: "post_answers"},
		{ID: bad, Kind: "patch_analysis", Attempts: 1},
		{ID: last, Kind: "end_checkin", Attempts: 2},
	}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &Relay{
		Store: store,
		Deliver: func(ctx context.Context, it OutboxItem) error {
			if it.ID == ok {
				return nil
			}
			return errors.New("backend down")
		},
		MaxAttempts: 3,
		now:         func() time.Time { return now },
	}

	n, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{ok}, store.delivered)
	assert.Equal(t, failed{next: now.Add(10 * time.Second), dead: false}, store.failed[bad])
	assert.True(t, store.failed[last].dead)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(1))
	assert.Equal(t, 10*time.Second, Backoff(2))
	assert.Equal(t, 40*time.Second, Backoff(4))
	assert.Equal(t, 30*time.Minute, Backoff(50))
}
