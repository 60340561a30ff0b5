package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"checkin-assistant/internal/provider"
	"checkin-assistant/internal/session"
	"checkin-assistant/pkg"
)

type sent struct {
	Key  string
	Text string
}

type fakeChat struct {
	mu      sync.Mutex
	texts   []sent
	voices  []string
	actions []string
	keys    map[string]string
	media   []byte
	sendErr error
}

func newFakeChat() *fakeChat { return &fakeChat{keys: map[string]string{}} }

func (c *fakeChat) SendMessage(ctx context.Context, key, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.texts = append(c.texts, sent{key, text})
	return nil
}

func (c *fakeChat) SendVoice(ctx context.Context, key string, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voices = append(c.voices, key)
	return nil
}

func (c *fakeChat) DownloadMedia(ctx context.Context, m *pkg.Media) ([]byte, error) {
	if c.media == nil {
		return nil, errors.New("no media")
	}
	return c.media, nil
}

func (c *fakeChat) Action(ctx context.Context, key, action string) func() {
	c.mu.Lock()
	c.actions = append(c.actions, action)
	c.mu.Unlock()
	return func() {}
}

func (c *fakeChat) ResolveKey(ctx context.Context, username string) (string, error) {
	if k, ok := c.keys[username]; ok {
		return k, nil
	}
	return "", errors.New("unknown user")
}

func (c *fakeChat) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.texts))
	for _, s := range c.texts {
		out = append(out, s.Text)
	}
	return out
}

func (c *fakeChat) last() string {
	m := c.messages()
	if len(m) == 0 {
		return ""
	}
	return m[len(m)-1]
}

type fakeBackend struct {
	mu        sync.Mutex
	history   *pkg.PatientHistory
	refs      map[string]*pkg.PatientRef
	active    string
	started   int
	questions [][]pkg.QuestionItem
	answers   []pkg.AnswerItem
	ended     []string
	analyses  []pkg.Analysis
	answerErr error
}

func (b *fakeBackend) PatientByUsername(ctx context.Context, username string) (*pkg.PatientRef, error) {
	if r, ok := b.refs[username]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

func (b *fakeBackend) PatientByID(ctx context.Context, id string) (*pkg.Patient, error) {
	if b.history == nil || b.history.Patient.ID != id {
		return nil, errors.New("not found")
	}
	return b.history.Patient, nil
}

func (b *fakeBackend) PatientWithHistory(ctx context.Context, id string) (*pkg.PatientHistory, error) {
	if b.history == nil || b.history.Patient.ID != id {
		return nil, errors.New("not found")
	}
	return b.history, nil
}

func (b *fakeBackend) StartCheckin(ctx context.Context, patientID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started++
	return "chk-new", nil
}

func (b *fakeBackend) ActiveCheckin(ctx context.Context, patientUserID string) (string, error) {
	return b.active, nil
}

func (b *fakeBackend) PostQuestions(ctx context.Context, checkinID string, items []pkg.QuestionItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.questions = append(b.questions, items)
	return nil
}

func (b *fakeBackend) PostAnswers(ctx context.Context, checkinID string, items []pkg.AnswerItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.answerErr != nil {
		return b.answerErr
	}
	b.answers = append(b.answers, items...)
	return nil
}

func (b *fakeBackend) EndCheckin(ctx context.Context, patientUserID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = append(b.ended, patientUserID)
	return nil
}

func (b *fakeBackend) PatchAnalysis(ctx context.Context, checkinID string, a pkg.Analysis) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.analyses = append(b.analyses, a)
	return nil
}

type queued struct {
	Kind, Target string
	Payload      any
}

type fakeOutbox struct {
	mu    sync.Mutex
	items []queued
}

func (o *fakeOutbox) Enqueue(ctx context.Context, kind, target string, payload any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, queued{kind, target, payload})
	return nil
}

type fakeVoice struct {
	mu       sync.Mutex
	placeErr error
	replies  [][]byte
	played   int
	captures int
	ended    int
	// onCapture runs at the end of each listen window.
	onCapture func()
}

func (v *fakeVoice) PlaceCall(ctx context.Context, username string) error { return v.placeErr }

func (v *fakeVoice) PlayAudio(ctx context.Context, username string, audio []byte, mime string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.played++
	return nil
}

func (v *fakeVoice) CaptureAudio(ctx context.Context, username string, listen time.Duration) ([]byte, string, error) {
	if v.onCapture != nil {
		v.onCapture()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.captures++
	if len(v.replies) == 0 {
		return nil, "", nil
	}
	r := v.replies[0]
	v.replies = v.replies[1:]
	return r, "audio/wav", nil
}

func (v *fakeVoice) EndCall(ctx context.Context, username string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ended++
	return nil
}

type fakeEscalator struct {
	mu     sync.Mutex
	events []pkg.Escalation
}

func (f *fakeEscalator) Escalate(ctx context.Context, e pkg.Escalation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

// structuredModel answers structured requests with fn.
type structuredModel struct {
	fn func(system string, parts []provider.Part) (string, error)
}

func (m structuredModel) Name() string            { return "fake-structured" }
func (m structuredModel) MissingConfig() []string { return nil }
func (m structuredModel) GenerateJSON(ctx context.Context, system string, parts []provider.Part) (json.RawMessage, error) {
	s, err := m.fn(system, parts)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(s), nil
}

type chatModel struct{ reply string }

func (m chatModel) Name() string            { return "fake-chat" }
func (m chatModel) MissingConfig() []string { return nil }
func (m chatModel) Chat(ctx context.Context, system string, history []provider.Message, message string) (string, error) {
	return m.reply, nil
}

type speechModel struct {
	mu   sync.Mutex
	text []string
}

func (m *speechModel) Name() string            { return "fake-speech" }
func (m *speechModel) MissingConfig() []string { return nil }
func (m *speechModel) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return []byte("OggS" + text), nil
}
func (m *speechModel) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.text) == 0 {
		return "", provider.ErrTranscriptionEmpty
	}
	t := m.text[0]
	m.text = m.text[1:]
	return t, nil
}

// responder routes structured requests by system prompt.
func responder(questions, summary, triage string) structuredModel {
	return structuredModel{fn: func(system string, parts []provider.Part) (string, error) {
		switch system {
		case QuestionSystemPrompt:
			return questions, nil
		case SummarySystemPrompt:
			return summary, nil
		case TriageSystemPrompt:
			return triage, nil
		}
		return "", errors.New("unexpected prompt")
	}}
}

const (
	twoQuestions = `{"check_in_questions":[{"category":"respiratory","question":"Hi Ana, any trouble breathing?"},{"category":"meds","question":"Did you take your medication today?"}]}`
	goodSummary  = `{"overall":"Ana reports feeling fine.","next_steps":["Keep taking your meds"]}`
)

func testPatient() *pkg.Patient {
	return &pkg.Patient{
		ID:               "11111111-1111-1111-1111-111111111111",
		UserID:           "user-1",
		ConditionSummary: "post-op knee",
		RiskLevel:        "HIGH",
		User:             pkg.User{FirstName: "Ana", LastName: "Pereira", TelegramUsername: "@ana_p"},
	}
}

type harness struct {
	store   *session.MemoryStore
	chat    *fakeChat
	backend *fakeBackend
	outbox  *fakeOutbox
	engine  *Engine
}

func newHarness(model structuredModel) *harness {
	h := &harness{
		store:   session.NewMemoryStore(),
		chat:    newFakeChat(),
		backend: &fakeBackend{history: &pkg.PatientHistory{Patient: testPatient()}},
		outbox:  &fakeOutbox{},
	}
	structured := provider.NewStructuredChain(provider.Options{}, model)
	h.engine = &Engine{
		Store:   h.store,
		Chat:    h.chat,
		Backend: h.backend,
		Questions: &QuestionGenerator{
			LLM:  structured,
			Chat: provider.NewChatChain(provider.Options{}, chatModel{reply: "Hi Ana, quick safety check."}),
		},
		Summarizer: NewSummarizer(structured, nil),
		TTS:        provider.NewTTSChain(provider.Options{}, &speechModel{}),
		Outbox:     h.outbox,
	}
	return h
}

// seed stores an in-progress text check-in with two questions.
func (h *harness) seed(key string) {
	_ = h.store.Put(context.Background(), &session.Record{
		Key:    key,
		Status: session.StatusInQnA,
		Questions: []pkg.Question{
			{Seq: 1, Category: "respiratory", Text: "Any trouble breathing?"},
			{Seq: 2, Category: "meds", Text: "Did you take your medication today?"},
		},
		Patient:       testPatient(),
		CheckinID:     "chk-1",
		PatientUserID: "user-1",
		Username:      "ana_p",
		DeliveryMode:  session.ModeText,
	})
}
