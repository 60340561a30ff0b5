package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnknownUser is returned when a username has never written to the bot.
var ErrUnknownUser = errors.New("transport: username not seen yet")

// Directory maps chat usernames to chat ids.  The Bot API cannot address a
// user by username, so ids are learned from inbound messages.
type Directory interface {
	Remember(ctx context.Context, username, key string) error
	Lookup(ctx context.Context, username string) (string, error)
}

// MemoryDirectory is a Directory kept in process memory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	byKey map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byKey: make(map[string]string)}
}

func (d *MemoryDirectory) Remember(ctx context.Context, username, key string) error {
	u := normalize(username)
	if u == "" || key == "" {
		return nil
	}
	d.mu.Lock()
	d.byKey[u] = key
	d.mu.Unlock()
	return nil
}

func (d *MemoryDirectory) Lookup(ctx context.Context, username string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if key, ok := d.byKey[normalize(username)]; ok {
		return key, nil
	}
	return "", ErrUnknownUser
}

func normalize(u string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
}
