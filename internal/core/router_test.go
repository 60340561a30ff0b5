package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-assistant/internal/provider"
	"checkin-assistant/internal/session"
	"checkin-assistant/pkg"
)

const heartTriage = `{"triage_level":"moderate","brief_assessment":"Possible angina.","first_aid_advice":"Sit down and rest.","next_action":"call"}`

func newRouter(h *harness, speech *speechModel) *Router {
	return &Router{
		Store:  h.store,
		Chat:   h.chat,
		Engine: h.engine,
		Triage: &Triage{
			Store:   h.store,
			Chat:    h.chat,
			Backend: h.backend,
			LLM:     h.engine.Summarizer.LLM,
		},
		STT: provider.NewSTTChain(provider.Options{}, speech),
	}
}

func TestRouterDefaultMessage(t *testing.T) {
	h := newHarness(responder(twoQuestions, goodSummary, heartTriage))
	r := newRouter(h, &speechModel{})

	require.NoError(t, r.Handle(context.Background(), pkg.InboundMessage{Key: "42", Text: "good morning"}))
	assert.Equal(t, []string{DefaultMessage}, h.chat.messages())
	assert.Equal(t, 0, h.store.Len())
}

func TestRouterEmergencyWithoutSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(responder(twoQuestions, goodSummary, heartTriage))
	r := newRouter(h, &speechModel{})

	require.NoError(t, r.Handle(ctx, pkg.InboundMessage{Key: "42", Text: "my chest hurts"}))
	rec, err := h.store.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, session.StatusEmergency, rec.Status)
	assert.Equal(t, "Possible angina.\n\n**First Aid Advice:**\nSit down and rest.", h.chat.last())
}

func TestRouterSessionBeatsEmergency(t *testing.T) {
	ctx := context.Background()
	h := newHarness(responder(twoQuestions, goodSummary, heartTriage))
	h.seed("42")
	r := newRouter(h, &speechModel{})

	require.NoError(t, r.Handle(ctx, pkg.InboundMessage{Key: "42", Text: "a little chest pain"}))
	rec, err := h.store.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, session.StatusInQnA, rec.Status)
	assert.Equal(t, "a little chest pain", rec.Answers[0].Answer)
}

func TestRouterTranscribesVoiceAnswer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(responder(twoQuestions, goodSummary, ""))
	h.seed("42")
	h.chat.media = []byte("OggS...")
	r := newRouter(h, &speechModel{text: []string{"  breathing is fine "}})

	voice := pkg.InboundMessage{Key: "42", Media: &pkg.Media{Kind: pkg.MediaVoice, FileID: "f1", MIME: "audio/ogg"}}
	require.NoError(t, r.Handle(ctx, voice))
	rec, err := h.store.Get(ctx, "42")
	require.NoError(t, err)
	require.Len(t, rec.Answers, 1)
	assert.Equal(t, "breathing is fine", rec.Answers[0].Answer)

	require.NoError(t, r.Handle(ctx, voice))
	assert.Equal(t, CallRetryMessage, h.chat.last())
	rec, err = h.store.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Index)
}

func TestRouterAsksForTextAnswer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(responder(twoQuestions, goodSummary, ""))
	h.seed("42")
	r := newRouter(h, &speechModel{})

	require.NoError(t, r.Handle(ctx, pkg.InboundMessage{Key: "42", Media: &pkg.Media{Kind: pkg.MediaPhoto}}))
	assert.Equal(t, TextAnswerMessage, h.chat.last())
	rec, err := h.store.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Index)
}
