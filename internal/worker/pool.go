// Package worker bounds how many blocking provider and backend calls run at
// once.
package worker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool runs functions with at most Size in flight.  Callers block until a
// slot frees or their context ends.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// NewPool creates a pool with size slots.  Size below 1 is treated as 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size returns the slot count.
func (p *Pool) Size() int { return int(p.size) }

// Do acquires a slot, runs fn and releases the slot.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
