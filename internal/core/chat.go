package core

import (
	"context"
	"encoding/json"

	"checkin-assistant/internal/llm"
	"checkin-assistant/internal/provider"
	"checkin-assistant/pkg"
)

// Intro writes the opening line of a check-in.  On failure it returns the
// fixed fallback line together with the error.
func (g *QuestionGenerator) Intro(ctx context.Context, p *pkg.Patient) (string, error) {
	if g.Chat == nil || p == nil {
		return IntroFallback, nil
	}
	payload, err := json.Marshal(map[string]any{
		"user_data": map[string]string{
			"patient_name":      p.User.FullName(),
			"risk_level":        p.RiskLevel,
			"condition_summary": p.ConditionSummary,
		},
		"instruction": IntroInstruction,
	})
	if err != nil {
		return IntroFallback, err
	}
	text, err := g.Chat.Invoke(ctx, provider.ChatRequest{System: IntroSystemPrompt, Message: string(payload)})
	if err != nil {
		return IntroFallback, err
	}
	if text = llm.StripCodeFence(text); text == "" {
		return IntroFallback, nil
	}
	return text, nil
}
