package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-assistant/internal/provider"
	"checkin-assistant/pkg"
)

func TestStripGreeting(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hi Ana Pereira, how is your breathing?", "how is your breathing?"},
		{"hello ana, any chest pain?", "any chest pain?"},
		{"Hey, did you take your meds?", "did you take your meds?"},
		{"This is a quick check-in, any fever?", "any fever?"},
		{"We're starting your daily check-in, any swelling?", "any swelling?"},
		{"Quick check-in: any bleeding?", "any bleeding?"},
		{"History of falls this week?", "History of falls this week?"},
		{"  Any dizziness?  ", "Any dizziness?"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StripGreeting(c.in, "Ana Pereira", "Ana"), c.in)
	}
}

func TestTrimCheckins(t *testing.T) {
	var checkins []pkg.Checkin
	for i := 1; i <= 5; i++ {
		c := pkg.Checkin{ID: fmt.Sprint(i), CompletedAt: fmt.Sprintf("2026-01-0%dT10:00:00Z", i)}
		for j := 1; j <= 7; j++ {
			c.Questions = append(c.Questions, pkg.PriorQuestion{Seq: j, Text: fmt.Sprintf("q%d", j)})
		}
		c.Answers = []pkg.PriorAnswer{{Seq: 1, Answer: "a1"}}
		checkins = append(checkins, c)
	}
	checkins[0].CompletedAt = ""
	checkins[0].UpdatedAt = "2026-02-01T00:00:00Z"

	got := TrimCheckins(checkins)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1", "5", "4"}, []string{got[0].ID, got[1].ID, got[2].ID})
	require.Len(t, got[1].Pairs, 5)
	assert.Equal(t, QAPair{Q: "q1", A: "a1"}, got[1].Pairs[0])
	assert.Equal(t, QAPair{Q: "q2"}, got[1].Pairs[1])
}

func TestGenerateQuestions(t *testing.T) {
	var items []string
	for i := 0; i < 12; i++ {
		items = append(items, fmt.Sprintf(`{"category":"c%d","question":"Hello, question %d?"}`, i, i))
	}
	items[2] = `{"category":"empty","question":"  "}`
	body := "```json\n" + `{"check_in_questions":[` + strings.Join(items, ",") + `]}` + "\n```"

	var prompt map[string]any
	model := structuredModel{fn: func(system string, parts []provider.Part) (string, error) {
		require.NoError(t, json.Unmarshal([]byte(parts[0].Text), &prompt))
		return body, nil
	}}
	g := &QuestionGenerator{LLM: provider.NewStructuredChain(provider.Options{}, model)}
	vitals := make([]pkg.VitalReading, 8)
	for i := range vitals {
		vitals[i] = pkg.VitalReading{"heart_rate": 70 + i}
	}

	qs, err := g.Generate(context.Background(), &pkg.PatientHistory{Patient: testPatient(), Vitals: vitals})
	require.NoError(t, err)
	require.Len(t, qs, 10)
	assert.Equal(t, pkg.Question{Seq: 1, Category: "c0", Text: "question 0?"}, qs[0])
	assert.Equal(t, 4, qs[2].Seq)

	data := prompt["user_data"].(map[string]any)
	assert.Equal(t, "Ana Pereira", data["patient_name"])
	assert.Len(t, data["recent_vital_readings"], 5)
	assert.Equal(t, QuestionInstruction, prompt["instruction"])
}

func TestGenerateQuestionsFailures(t *testing.T) {
	ctx := context.Background()
	h := &pkg.PatientHistory{Patient: testPatient()}

	bad := &QuestionGenerator{LLM: provider.NewStructuredChain(provider.Options{}, structuredModel{
		fn: func(string, []provider.Part) (string, error) { return "[1,2", nil },
	})}
	qs, err := bad.Generate(ctx, h)
	assert.Empty(t, qs)
	assert.ErrorIs(t, err, ErrGenerationParseFailed)

	down := &QuestionGenerator{LLM: provider.NewStructuredChain(provider.Options{}, structuredModel{
		fn: func(string, []provider.Part) (string, error) { return "", errors.New("model loading") },
	})}
	qs, err = down.Generate(ctx, h)
	assert.Empty(t, qs)
	assert.ErrorIs(t, err, provider.ErrNoBackendConfigured)
}

func TestIntroFallsBack(t *testing.T) {
	g := &QuestionGenerator{Chat: provider.NewChatChain(provider.Options{}, chatModel{reply: "```\n```"})}
	text, err := g.Intro(context.Background(), testPatient())
	require.NoError(t, err)
	assert.Equal(t, IntroFallback, text)

	g.Chat = provider.NewChatChain(provider.Options{})
	text, err = g.Intro(context.Background(), testPatient())
	assert.Error(t, err)
	assert.Equal(t, IntroFallback, text)
}
