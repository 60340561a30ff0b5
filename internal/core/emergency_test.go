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

type fakeArchive struct{ objects []string }

func (a *fakeArchive) PutMedia(ctx context.Context, conversation, mime string, data []byte) (string, error) {
	key := "emergency/" + conversation + "/" + mime
	a.objects = append(a.objects, key)
	return key, nil
}

func newTriage(h *harness, triage string) (*Triage, *fakeEscalator, *[]provider.Part) {
	var seen []provider.Part
	model := structuredModel{fn: func(system string, parts []provider.Part) (string, error) {
		seen = parts
		return triage, nil
	}}
	alerts := &fakeEscalator{}
	return &Triage{
		Store:   h.store,
		Chat:    h.chat,
		Backend: h.backend,
		LLM:     provider.NewStructuredChain(provider.Options{}, model),
		Alerts:  alerts,
	}, alerts, &seen
}

func TestTriageHighAlertThenLocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(responder("", "", ""))
	h.backend.refs = map[string]*pkg.PatientRef{"ana_p": {ID: testPatient().ID}}
	tr, alerts, _ := newTriage(h, `{"triage_level":"Critical","brief_assessment":"Possible cardiac event.","first_aid_advice":"Sit down and chew an aspirin.","next_action":"Call 911"}`)

	in := pkg.InboundMessage{Key: "42", Username: "ana_p", Text: "I have chest pain"}
	require.True(t, HasEmergencySignal(in))
	require.NoError(t, tr.Start(ctx, in))

	assert.Equal(t, []string{
		"Possible cardiac event.\n\n**First Aid Advice:**\nSit down and chew an aspirin.",
		HighAlertMessage,
	}, h.chat.messages())
	rec, err := h.store.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, session.StatusEmergency, rec.Status)
	assert.Equal(t, "Critical", rec.Emergency.TriageLevel)
	require.Len(t, alerts.events, 1)
	assert.Equal(t, pkg.EscalationTriage, alerts.events[0].Kind)
	assert.Equal(t, testPatient().ID, alerts.events[0].PatientID)

	require.NoError(t, tr.FollowUp(ctx, rec, pkg.InboundMessage{Key: "42", Text: "what is my address?"}))
	assert.Equal(t, LocationPromptMessage, h.chat.last())
	require.NoError(t, tr.FollowUp(ctx, rec, pkg.InboundMessage{Key: "42", Text: "ok"}))
	assert.Equal(t, HoldingMessage, h.chat.last())

	loc := pkg.InboundMessage{Key: "42", Media: &pkg.Media{Kind: pkg.MediaLocation, Latitude: 52.1, Longitude: 4.3}}
	require.NoError(t, tr.FollowUp(ctx, rec, loc))
	assert.Equal(t, LocationReceivedMessage, h.chat.last())
	assert.Equal(t, 0, h.store.Len())
	require.Len(t, alerts.events, 2)
	assert.Equal(t, pkg.EscalationLocation, alerts.events[1].Kind)
	assert.Equal(t, 52.1, alerts.events[1].Latitude)
	assert.Equal(t, "critical", alerts.events[1].TriageLevel)
}

func TestTriageParseFailureAsksForDescription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(responder("", "", ""))
	tr, _, _ := newTriage(h, "sorry, I can't")

	require.NoError(t, tr.Start(ctx, pkg.InboundMessage{Key: "7", Text: "help"}))
	assert.Equal(t, []string{TriageFallback}, h.chat.messages())
	rec, err := h.store.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, session.StatusEmergency, rec.Status)
	assert.Equal(t, pkg.TriageSummary{}, *rec.Emergency)
}

func TestTriageSendsAndArchivesPhoto(t *testing.T) {
	ctx := context.Background()
	h := newHarness(responder("", "", ""))
	h.chat.media = []byte("JPEG")
	tr, alerts, seen := newTriage(h, `{"triage_level":"minor","brief_assessment":"Small cut."}`)
	archive := &fakeArchive{}
	tr.Archive = archive

	in := pkg.InboundMessage{Key: "7", Text: "my leg", Media: &pkg.Media{Kind: pkg.MediaPhoto, FileID: "f"}}
	require.NoError(t, tr.Start(ctx, in))

	require.Len(t, *seen, 2)
	assert.Equal(t, "image/jpeg", (*seen)[1].MIME)
	assert.Equal(t, []byte("JPEG"), (*seen)[1].Data)
	assert.Equal(t, []string{"emergency/7/image/jpeg"}, archive.objects)
	assert.Equal(t, "emergency/7/image/jpeg", alerts.events[0].MediaObject)
	assert.Equal(t, []string{"Small cut."}, h.chat.messages())
}

func TestHasEmergencySignal(t *testing.T) {
	assert.True(t, HasEmergencySignal(pkg.InboundMessage{Text: "Can't catch my BREATH"}))
	assert.True(t, HasEmergencySignal(pkg.InboundMessage{Media: &pkg.Media{Kind: pkg.MediaVoice}}))
	assert.False(t, HasEmergencySignal(pkg.InboundMessage{Text: "good morning"}))
	assert.False(t, HasEmergencySignal(pkg.InboundMessage{Media: &pkg.Media{Kind: pkg.MediaLocation}}))
}
