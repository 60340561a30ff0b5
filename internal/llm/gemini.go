package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	genai "google.golang.org/genai"

	"checkin-assistant/internal/provider"
)

// GeminiClient is a thin wrapper around the official genai client.  The
// underlying client is created on first use so an unconfigured Gemini entry
// costs nothing.  Media parts are passed through, which makes Gemini the
// preferred backend for multimodal triage.
type GeminiClient struct {
	apiKey string
	model  string

	once    sync.Once
	cli     *genai.Client
	initErr error
}

// NewGeminiClient returns a client for model (default gemini-2.5-flash).
func NewGeminiClient(apiKey, model string) *GeminiClient {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiClient{apiKey: apiKey, model: model}
}

func (g *GeminiClient) Name() string { return "gemini:" + g.model }

func (g *GeminiClient) MissingConfig() []string {
	return provider.MissingKeys(map[string]string{"GEMINI_API_KEY": g.apiKey})
}

func (g *GeminiClient) client(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.cli, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.cli, g.initErr
}

// Chat maps history onto user/model turns and returns the reply text.
func (g *GeminiClient) Chat(ctx context.Context, system string, history []provider.Message, message string) (string, error) {
	cli, err := g.client(ctx)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := cli.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: empty response: %w", provider.ErrProviderUnavailable)
	}
	return text, nil
}

// GenerateJSON sends text and media parts and asks for application/json.
func (g *GeminiClient) GenerateJSON(ctx context.Context, system string, parts []provider.Part) (json.RawMessage, error) {
	cli, err := g.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	gparts := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Text != "":
			gparts = append(gparts, genai.NewPartFromText(p.Text))
		case len(p.Data) > 0:
			gparts = append(gparts, genai.NewPartFromBytes(p.Data, p.MIME))
		}
	}
	if len(gparts) == 0 {
		gparts = append(gparts, genai.NewPartFromText("{}"))
	}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(gparts, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return ParseJSON(resp.Text())
}
