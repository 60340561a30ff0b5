package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"checkin-assistant/internal/llm"
	"checkin-assistant/internal/provider"
	"checkin-assistant/pkg"
)

const (
	maxSummaryLine = 220
	maxReplySteps  = 3
)

// Note is the short clinical note produced at the end of a check-in.
type Note struct {
	Overall   string
	NextSteps []string
}

// Summarizer turns the collected answers into a Note using the structured
// chain.
type Summarizer struct {
	LLM *provider.StructuredChain
	Log *slog.Logger
}

// NewSummarizer constructs a summariser.
func NewSummarizer(chain *provider.StructuredChain, log *slog.Logger) *Summarizer {
	return &Summarizer{LLM: chain, Log: log}
}

type summaryProfile struct {
	Name             string `json:"name"`
	ConditionSummary string `json:"condition_summary"`
	BaselineVitals   struct {
		BloodPressure string `json:"blood_pressure"`
		HeartRate     int    `json:"heart_rate"`
	} `json:"baseline_vitals"`
	Comorbidities       []string `json:"comorbidities"`
	Medications         []string `json:"medications"`
	RiskLevel           string   `json:"risk_level"`
	MonitoringFrequency string   `json:"monitoring_frequency"`
}

// Summarize compares answers against the profile.  When the chain fails or
// its output cannot be parsed, the fallback note is returned with the error.
func (s *Summarizer) Summarize(ctx context.Context, p *pkg.Patient, answers []pkg.Answer) (Note, error) {
	fallback := Note{Overall: SummaryFallback}
	payload, err := json.Marshal(map[string]any{
		"patient_profile": profileOf(p),
		"patient_answers": map[string]any{"answers": answers},
		"instruction":     SummaryInstruction,
		"output_format":   map[string]any{"overall": "", "next_steps": []string{}},
	})
	if err != nil {
		return fallback, err
	}

	raw, err := s.LLM.Invoke(ctx, provider.StructuredRequest{
		System: SummarySystemPrompt,
		Parts:  []provider.Part{provider.TextPart(string(payload))},
	})
	if err != nil {
		return fallback, fmt.Errorf("summarize: %w", err)
	}
	note, err := parseNote(raw)
	if err != nil {
		return fallback, err
	}
	if note.Overall == "" {
		note.Overall = SummaryFallback
	}
	return note, nil
}

func profileOf(p *pkg.Patient) summaryProfile {
	var prof summaryProfile
	if p == nil {
		return prof
	}
	prof.Name = p.User.FullName()
	prof.ConditionSummary = p.ConditionSummary
	prof.BaselineVitals.BloodPressure = p.BaselineVitals.BloodPressure
	prof.BaselineVitals.HeartRate = p.BaselineVitals.HeartRate
	prof.Comorbidities = p.Comorbidities
	if prof.Comorbidities == nil {
		prof.Comorbidities = []string{}
	}
	prof.Medications = []string{}
	for _, m := range p.CurrentMedications.Medications {
		prof.Medications = append(prof.Medications, m.Name)
	}
	prof.RiskLevel = p.RiskLevel
	prof.MonitoringFrequency = p.MonitoringFrequency
	return prof
}

// parseNote accepts next_steps as a list or as a single string.
func parseNote(raw json.RawMessage) (Note, error) {
	var doc struct {
		Overall   string          `json:"overall"`
		NextSteps json.RawMessage `json:"next_steps"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(string(raw))), &doc); err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrGenerationParseFailed, err)
	}
	note := Note{Overall: strings.TrimSpace(doc.Overall)}

	var steps []any
	if err := json.Unmarshal(doc.NextSteps, &steps); err != nil {
		var one string
		if json.Unmarshal(doc.NextSteps, &one) == nil {
			steps = []any{one}
		}
	}
	for _, s := range steps {
		if str, ok := s.(string); ok && strings.TrimSpace(str) != "" {
			note.NextSteps = append(note.NextSteps, strings.TrimSpace(str))
		}
	}
	return note, nil
}

var patientWord = regexp.MustCompile(`(?i)\bpatient\b`)

// Personalize addresses the patient directly: their first name and the word
// "patient" become "you".
func Personalize(text, firstName string) string {
	if text == "" {
		return ""
	}
	if firstName = strings.TrimSpace(firstName); firstName != "" {
		text = regexp.MustCompile(`(?i)`+regexp.QuoteMeta(firstName)).ReplaceAllString(text, "you")
	}
	return patientWord.ReplaceAllString(text, "you")
}

// ComposeReply builds the patient-facing message closing a check-in.
func ComposeReply(n Note, firstName string, risk RiskAssessment) string {
	emoji := "⚠️"
	if risk.Stable() {
		emoji = "✅"
	}
	var b strings.Builder
	b.WriteString(emoji + " Thanks for checking in")
	if firstName != "" {
		b.WriteString(", " + firstName)
	}
	b.WriteString(".\n\n")

	line := Personalize(n.Overall, firstName)
	if r := []rune(line); len(r) > maxSummaryLine {
		line = string(r[:maxSummaryLine-3]) + "..."
	}
	b.WriteString("I noted: " + line + "\n")

	if len(n.NextSteps) == 0 {
		b.WriteString("\n" + NoStepsLine + "\n")
	} else {
		b.WriteString("\nPlease do these next:\n")
		for i, s := range n.NextSteps {
			if i == maxReplySteps {
				break
			}
			b.WriteString("- " + Personalize(s, firstName) + "\n")
		}
	}
	b.WriteString(SummaryClosing)
	return b.String()
}

// BuildAnalysis is the clinician payload patched onto the check-in.  It
// carries the note as generated, without personalization.
func BuildAnalysis(n Note, risk RiskAssessment) pkg.Analysis {
	steps := n.NextSteps
	if steps == nil {
		steps = []string{}
	}
	return pkg.Analysis{
		AIAnalysis:    pkg.AIAnalysis{Summary: n.Overall, NextSteps: steps},
		MedicalStatus: risk.MedicalStatus,
		RiskScore:     risk.Score,
		Alert: pkg.Alert{
			Severity:  risk.Severity,
			AlertType: "VITAL_ABNORMAL",
			Title:     "Automated check-in analysis",
			Message:   n.Overall,
			Details:   pkg.AlertDetails{Overall: n.Overall, NextSteps: steps},
		},
	}
}
