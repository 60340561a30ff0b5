// Package provider selects among competing speech and language backends.
//
// A Chain holds an ordered list of candidates for one capability.  Invoke
// tries them in priority order and returns the first success.  Candidates
// whose required configuration is absent are skipped, not treated as errors.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoBackendConfigured is matched by *NoBackendConfiguredError.
	ErrNoBackendConfigured = errors.New("no backend configured")
	// ErrProviderUnavailable marks a reachable backend that is transiently
	// failing (model loading, rate limited, 5xx).
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrTranscriptionEmpty means STT ran but produced no usable text.
	ErrTranscriptionEmpty = errors.New("transcription empty")
)

// Policy controls how far down the candidate list a chain goes.
type Policy string

const (
	// StrictFirstConfigured uses only the first configured candidate.
	StrictFirstConfigured Policy = "STRICT_FIRST_CONFIGURED"
	// TryAllInOrder exhausts the list until one candidate succeeds.
	TryAllInOrder Policy = "TRY_ALL_IN_ORDER"
)

// ParsePolicy accepts the policy names case-insensitively.  An empty string
// yields TryAllInOrder.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(TryAllInOrder):
		return TryAllInOrder, nil
	case string(StrictFirstConfigured):
		return StrictFirstConfigured, nil
	default:
		return "", fmt.Errorf("unknown fallback policy %q", s)
	}
}

// Runner executes blocking work, typically on a bounded pool.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Candidate is one backend in a chain.
type Candidate[Req, Res any] struct {
	Name string
	// Missing lists required configuration keys that are unset.
	Missing []string
	Invoke  func(ctx context.Context, req Req) (Res, error)
}

// Options are shared by every chain constructor.
type Options struct {
	Policy  Policy
	Timeout time.Duration
	Runner  Runner
	Log     *slog.Logger
}

// Chain tries candidates in order until one succeeds.
type Chain[Req, Res any] struct {
	Capability string
	Policy     Policy
	// Timeout bounds each candidate call; zero leaves the caller's deadline.
	Timeout    time.Duration
	Runner     Runner
	Log        *slog.Logger
	Candidates []Candidate[Req, Res]
}

// NewChain builds a chain for capability from opts.
func NewChain[Req, Res any](capability string, opts Options, candidates ...Candidate[Req, Res]) *Chain[Req, Res] {
	policy := opts.Policy
	if policy == "" {
		policy = TryAllInOrder
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Chain[Req, Res]{
		Capability: capability,
		Policy:     policy,
		Timeout:    opts.Timeout,
		Runner:     opts.Runner,
		Log:        log,
		Candidates: candidates,
	}
}

// Invoke runs req against the candidates.  A failing candidate is never
// retried.  When nothing succeeds the error is a *NoBackendConfiguredError.
func (c *Chain[Req, Res]) Invoke(ctx context.Context, req Req) (Res, error) {
	var zero Res
	exhausted := &NoBackendConfiguredError{Capability: c.Capability}
	tried := 0
	for _, cand := range c.Candidates {
		if len(cand.Missing) > 0 {
			exhausted.Missing = append(exhausted.Missing, cand.Missing...)
			continue
		}
		if c.Policy == StrictFirstConfigured && tried > 0 {
			break
		}
		tried++
		start := time.Now()
		res, err := c.call(ctx, cand, req)
		if err == nil {
			c.Log.Debug("provider call succeeded",
				"capability", c.Capability, "provider", cand.Name, "elapsed", time.Since(start))
			return res, nil
		}
		c.Log.Warn("provider call failed",
			"capability", c.Capability, "provider", cand.Name, "error", err)
		exhausted.Failures = append(exhausted.Failures, &CandidateError{Backend: cand.Name, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return zero, exhausted
}

func (c *Chain[Req, Res]) call(ctx context.Context, cand Candidate[Req, Res], req Req) (Res, error) {
	var res Res
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	run := func(ctx context.Context) error {
		r, err := cand.Invoke(ctx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	}
	if c.Runner == nil {
		return res, run(ctx)
	}
	return res, c.Runner.Do(ctx, run)
}

// Names lists the candidate names in priority order.
func (c *Chain[Req, Res]) Names() []string {
	out := make([]string, 0, len(c.Candidates))
	for _, cand := range c.Candidates {
		out = append(out, cand.Name)
	}
	return out
}

// CandidateError records why one candidate failed.
type CandidateError struct {
	Backend string
	Err     error
}

func (e *CandidateError) Error() string { return e.Backend + ": " + e.Err.Error() }
func (e *CandidateError) Unwrap() error { return e.Err }

// NoBackendConfiguredError is returned when no candidate was configured or
// every configured candidate failed.
type NoBackendConfiguredError struct {
	Capability string
	Missing    []string
	Failures   []error
}

func (e *NoBackendConfiguredError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: no backend available", e.Capability)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing config: %s)", strings.Join(e.Missing, ", "))
	}
	for _, f := range e.Failures {
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *NoBackendConfiguredError) Is(target error) bool { return target == ErrNoBackendConfigured }

func (e *NoBackendConfiguredError) Unwrap() []error { return e.Failures }

// MissingKeys returns the keys of required whose values are blank, sorted.
func MissingKeys(required map[string]string) []string {
	var out []string
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
