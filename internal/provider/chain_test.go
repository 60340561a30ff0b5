package provider

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTT struct {
	name    string
	missing []string
	text    string
	err     error
	calls   int32
}

func (f *fakeSTT) Name() string            { return f.name }
func (f *fakeSTT) MissingConfig() []string { return f.missing }
func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.text, f.err
}

type fakeTTS struct {
	name    string
	missing []string
	audio   []byte
	err     error
	calls   int32
}

func (f *fakeTTS) Name() string            { return f.name }
func (f *fakeTTS) MissingConfig() []string { return f.missing }
func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.audio, f.err
}

type countingRunner struct{ calls int32 }

func (r *countingRunner) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	atomic.AddInt32(&r.calls, 1)
	return fn(ctx)
}

func TestSingleCandidateSucceeds(t *testing.T) {
	only := &fakeSTT{name: "local", text: "I feel fine"}
	off := &fakeSTT{name: "deepgram", missing: []string{"DEEPGRAM_API_KEY"}}
	chain := NewSTTChain(Options{}, off, only)

	got, err := chain.Invoke(context.Background(), STTRequest{Audio: []byte("x"), MIME: "audio/ogg"})
	require.NoError(t, err)
	assert.Equal(t, "I feel fine", got)
	assert.EqualValues(t, 1, only.calls)
	assert.EqualValues(t, 0, off.calls)
}

func TestSingleCandidateFailureIsExhaustion(t *testing.T) {
	only := &fakeSTT{name: "local", err: ErrProviderUnavailable}
	off := &fakeSTT{name: "deepgram", missing: []string{"DEEPGRAM_API_KEY"}}
	chain := NewSTTChain(Options{}, only, off)

	_, err := chain.Invoke(context.Background(), STTRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoBackendConfigured))
	assert.True(t, errors.Is(err, ErrProviderUnavailable))

	var nb *NoBackendConfiguredError
	require.True(t, errors.As(err, &nb))
	assert.Equal(t, CapabilitySTT, nb.Capability)
	assert.Equal(t, []string{"DEEPGRAM_API_KEY"}, nb.Missing)
	require.Len(t, nb.Failures, 1)
	assert.EqualValues(t, 1, only.calls, "failed candidate must not be retried")
}

func TestNothingConfigured(t *testing.T) {
	chain := NewTTSChain(Options{},
		&fakeTTS{name: "a", missing: []string{"A_KEY"}},
		&fakeTTS{name: "b", missing: []string{"B_URL", "B_KEY"}},
	)
	_, err := chain.Invoke(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNoBackendConfigured)
	assert.Contains(t, err.Error(), "A_KEY")
	assert.Contains(t, err.Error(), "B_URL")
}

func TestLocalEmptyTranscriptFallsBackToCloud(t *testing.T) {
	local := &fakeSTT{name: "whisper-local", err: fmt.Errorf("local: %w", ErrTranscriptionEmpty)}
	cloud := &fakeSTT{name: "deepgram", text: "my chest hurts"}
	chain := NewSTTChain(Options{}, local, cloud)

	got, err := chain.Invoke(context.Background(), STTRequest{Audio: []byte{1}, MIME: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "my chest hurts", got)
	assert.EqualValues(t, 1, local.calls)
	assert.EqualValues(t, 1, cloud.calls)
}

func TestStrictFirstConfiguredDoesNotFallBack(t *testing.T) {
	unconfigured := &fakeTTS{name: "hf", missing: []string{"HF_TOKEN"}}
	first := &fakeTTS{name: "gtts", err: errors.New("boom")}
	second := &fakeTTS{name: "deepgram", audio: []byte("ogg")}
	chain := NewTTSChain(Options{Policy: StrictFirstConfigured}, unconfigured, first, second)

	_, err := chain.Invoke(context.Background(), "hi")
	require.ErrorIs(t, err, ErrNoBackendConfigured)
	assert.EqualValues(t, 1, first.calls)
	assert.EqualValues(t, 0, second.calls)
}

func TestTryAllInOrderFallsBack(t *testing.T) {
	first := &fakeTTS{name: "gtts", err: errors.New("boom")}
	second := &fakeTTS{name: "deepgram", audio: []byte("ogg")}
	chain := NewTTSChain(Options{Policy: TryAllInOrder}, first, second)

	got, err := chain.Invoke(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []byte("ogg"), got)
}

func TestChainUsesRunnerAndTimeout(t *testing.T) {
	runner := &countingRunner{}
	slow := Candidate[string, string]{
		Name: "slow",
		Invoke: func(ctx context.Context, req string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	fast := Candidate[string, string]{
		Name:   "fast",
		Invoke: func(ctx context.Context, req string) (string, error) { return "ok:" + req, nil },
	}
	chain := NewChain("test", Options{Runner: runner, Timeout: 20 * time.Millisecond}, slow, fast)

	got, err := chain.Invoke(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok:x", got)
	assert.EqualValues(t, 2, runner.calls)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("strict_first_configured")
	require.NoError(t, err)
	assert.Equal(t, StrictFirstConfigured, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, TryAllInOrder, p)

	_, err = ParsePolicy("random")
	assert.Error(t, err)
}

func TestMissingKeys(t *testing.T) {
	got := MissingKeys(map[string]string{"B": "", "A": " ", "C": "set"})
	assert.Equal(t, []string{"A", "B"}, got)
}
