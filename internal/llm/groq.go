package llm

import (
	openai "github.com/sashabaranov/go-openai"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// NewGroqClient points the OpenAI client at Groq.  Groq models here are
// text-only, so media parts are replaced with a marker.
func NewGroqClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "openai/gpt-oss-120b"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = GroqBaseURL
	return &OpenAIClient{
		client:          openai.NewClientWithConfig(cfg),
		provider:        "groq",
		keyVar:          "GROQ_API_KEY",
		apiKey:          apiKey,
		chatModel:       model,
		structuredModel: model,
	}
}
