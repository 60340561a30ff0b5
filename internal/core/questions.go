package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"checkin-assistant/internal/llm"
	"checkin-assistant/internal/provider"
	"checkin-assistant/pkg"
)

// Prompt bounds for the history sent with question generation.
const (
	maxPriorCheckins = 3
	maxPriorPairs    = 5
	maxVitals        = 5
	maxQuestions     = 10
)

// QuestionGenerator builds the question set for a check-in from the patient
// profile and recent history.
type QuestionGenerator struct {
	LLM  *provider.StructuredChain
	Chat *provider.ChatChain
	Log  *slog.Logger
}

// QAPair is one prior question with its answer.
type QAPair struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// PriorCheckin is a trimmed historical check-in sent as prompt context.
type PriorCheckin struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	CompletedAt string   `json:"completed_at"`
	Pairs       []QAPair `json:"pairs"`
}

type medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Instructions string `json:"instructions"`
}

type questionContext struct {
	PatientName         string             `json:"patient_name"`
	ConditionSummary    string             `json:"condition_summary"`
	RiskLevel           string             `json:"risk_level"`
	Comorbidities       []string           `json:"comorbidities"`
	CurrentMedications  []medication       `json:"current_medications"`
	MonitoringFrequency string             `json:"monitoring_frequency"`
	BaselineVitals      pkg.BaselineVitals `json:"baseline_vitals"`
	PreviousCheckins    []PriorCheckin     `json:"previous_checkins"`
	RecentVitalReadings []pkg.VitalReading `json:"recent_vital_readings"`
}

type generated struct {
	Questions []struct {
		Seq      int    `json:"seq"`
		Category string `json:"category"`
		Question string `json:"question"`
	} `json:"check_in_questions"`
}

// Generate asks the structured chain for 5-10 questions.  An empty result is
// always returned with an error saying why; callers must not start a session
// without questions.
func (g *QuestionGenerator) Generate(ctx context.Context, h *pkg.PatientHistory) ([]pkg.Question, error) {
	if h == nil || h.Patient == nil {
		return nil, fmt.Errorf("generate questions: no patient")
	}
	p := h.Patient
	payload, err := json.Marshal(map[string]any{
		"user_data":   buildQuestionContext(h),
		"instruction": QuestionInstruction,
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.LLM.Invoke(ctx, provider.StructuredRequest{
		System: QuestionSystemPrompt,
		Parts:  []provider.Part{provider.TextPart(string(payload))},
	})
	if err != nil {
		g.logger().Error("question generation failed", "patient_id", p.ID, "err", err)
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	var out generated
	if err := json.Unmarshal([]byte(llm.StripCodeFence(string(raw))), &out); err != nil {
		g.logger().Error("question set unparseable", "patient_id", p.ID, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationParseFailed, err)
	}

	questions := make([]pkg.Question, 0, len(out.Questions))
	for i, q := range out.Questions {
		text := StripGreeting(q.Question, p.User.FullName(), p.User.FirstName)
		if text == "" {
			continue
		}
		seq := q.Seq
		if seq <= 0 {
			seq = i + 1
		}
		questions = append(questions, pkg.Question{Seq: seq, Category: q.Category, Text: text})
		if len(questions) == maxQuestions {
			break
		}
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions in response", ErrGenerationParseFailed)
	}
	return questions, nil
}

func (g *QuestionGenerator) logger() *slog.Logger {
	if g.Log == nil {
		return slog.Default()
	}
	return g.Log
}

func buildQuestionContext(h *pkg.PatientHistory) questionContext {
	p := h.Patient
	meds := make([]medication, 0, len(p.CurrentMedications.Medications))
	for _, m := range p.CurrentMedications.Medications {
		meds = append(meds, medication(m))
	}
	vitals := h.Vitals
	if len(vitals) > maxVitals {
		vitals = vitals[:maxVitals]
	}
	comorbidities := p.Comorbidities
	if comorbidities == nil {
		comorbidities = []string{}
	}
	return questionContext{
		PatientName:         p.User.FullName(),
		ConditionSummary:    p.ConditionSummary,
		RiskLevel:           p.RiskLevel,
		Comorbidities:       comorbidities,
		CurrentMedications:  meds,
		MonitoringFrequency: p.MonitoringFrequency,
		BaselineVitals:      p.BaselineVitals,
		PreviousCheckins:    TrimCheckins(h.Checkins),
		RecentVitalReadings: vitals,
	}
}

// TrimCheckins keeps the three most recent check-ins with at most five
// question/answer pairs each.
func TrimCheckins(checkins []pkg.Checkin) []PriorCheckin {
	sorted := append([]pkg.Checkin(nil), checkins...)
	stamp := func(c pkg.Checkin) string {
		if c.CompletedAt != "" {
			return c.CompletedAt
		}
		return c.UpdatedAt
	}
	sort.SliceStable(sorted, func(i, j int) bool { return stamp(sorted[i]) > stamp(sorted[j]) })
	if len(sorted) > maxPriorCheckins {
		sorted = sorted[:maxPriorCheckins]
	}

	out := make([]PriorCheckin, 0, len(sorted))
	for _, c := range sorted {
		pairs := []QAPair{}
		for i, q := range c.Questions {
			if i == maxPriorPairs {
				break
			}
			var a string
			if i < len(c.Answers) {
				a = c.Answers[i].Answer
			}
			pairs = append(pairs, QAPair{Q: q.Text, A: a})
		}
		out = append(out, PriorCheckin{ID: c.ID, Status: c.Status, CompletedAt: c.CompletedAt, Pairs: pairs})
	}
	return out
}

var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:hi|hello|hey)\b[\s,]*`),
	regexp.MustCompile(`(?i)^this is a quick check[- ]?in[\s,]*`),
	regexp.MustCompile(`(?i)^we're starting.*?check[- ]?in[\s,]*`),
	regexp.MustCompile(`(?i)^quick check[- ]?in[:\s-]*`),
}

// StripGreeting removes one leading greeting or intro span from a generated
// question.  A greeting followed by one of names drops the name too.
func StripGreeting(text string, names ...string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return t
	}
	var patterns []*regexp.Regexp
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			patterns = append(patterns, regexp.MustCompile(`(?i)^(?:hi|hello|hey)\b[\s,]*`+regexp.QuoteMeta(name)+`\b[\s,]*`))
		}
	}
	patterns = append(patterns, greetingPatterns...)
	for _, re := range patterns {
		if loc := re.FindStringIndex(t); loc != nil {
			t = t[loc[1]:]
			break
		}
	}
	return strings.TrimSpace(t)
}
