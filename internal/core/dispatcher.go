package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher runs work one job at a time per conversation key, in
// submission order.  Different keys run concurrently.  A job must not call
// Do for its own key.
type Dispatcher struct {
	ctx context.Context
	Log *slog.Logger

	mu     sync.Mutex
	queues map[string][]job
	wg     sync.WaitGroup
}

type job struct {
	fn   func(ctx context.Context) error
	done chan error
}

// NewDispatcher returns a dispatcher whose jobs run under ctx.
func NewDispatcher(ctx context.Context, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{ctx: ctx, Log: log, queues: make(map[string][]job)}
}

// Submit queues fn for key and returns at once.  Errors are logged.
func (d *Dispatcher) Submit(key string, fn func(ctx context.Context) error) {
	d.enqueue(key, job{fn: fn})
}

// Do queues fn for key and waits for it to finish or for ctx to end.
func (d *Dispatcher) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	d.enqueue(key, job{fn: fn, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every queue has drained.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) enqueue(key string, j job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, running := d.queues[key]
	d.queues[key] = append(q, j)
	if running {
		return
	}
	d.wg.Add(1)
	go d.drain(key)
}

func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		j := q[0]
		d.queues[key] = q[1:]
		d.mu.Unlock()

		err := d.run(key, j.fn)
		if j.done != nil {
			j.done <- err
		} else if err != nil {
			d.Log.Error("conversation event failed", "key", key, "err", err)
		}
	}
}

func (d *Dispatcher) run(key string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			d.Log.Error("conversation event panicked", "key", key, "panic", p)
			err = fmt.Errorf("conversation %s: panic: %v", key, p)
		}
	}()
	return fn(d.ctx)
}
