package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.  Records are copied on the way in and
// out so callers never share memory with the store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Put replaces any record under rec.Key.
func (m *MemoryStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Key == "" {
		return errors.New("session: record without key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := rec.Clone()
	now := m.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.records[c.Key] = c
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, key string, fn func(*Record) error) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	c := rec.Clone()
	if err := fn(c); err != nil {
		return nil, err
	}
	c.Key = key
	if c.Index > len(c.Questions) {
		c.Index = len(c.Questions)
	}
	c.UpdatedAt = m.now()
	m.records[key] = c
	return c.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[key]
	delete(m.records, key)
	return ok, nil
}

// Len returns the number of live records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
