package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"checkin-assistant/internal/provider"
)

// ErrInvalidJSON is returned when a model answers structured requests with
// something that does not parse as JSON.
var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

// OpenAIClient calls an OpenAI-compatible chat completion API.  The same type
// serves OpenAI itself and Groq, which differ only in base URL, key and
// whether images can be attached.
type OpenAIClient struct {
	client          *openai.Client
	provider        string
	keyVar          string
	apiKey          string
	chatModel       string
	structuredModel string
	vision          bool
}

// NewOpenAIClient constructs an OpenAI-backed LLM client.  An empty
// structuredModel reuses chatModel.
func NewOpenAIClient(apiKey, chatModel, structuredModel string) *OpenAIClient {
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	if structuredModel == "" {
		structuredModel = chatModel
	}
	return &OpenAIClient{
		client:          openai.NewClient(apiKey),
		provider:        "openai",
		keyVar:          "OPENAI_API_KEY",
		apiKey:          apiKey,
		chatModel:       chatModel,
		structuredModel: structuredModel,
		vision:          true,
	}
}

func (c *OpenAIClient) Name() string { return c.provider + ":" + c.chatModel }

func (c *OpenAIClient) MissingConfig() []string {
	return provider.MissingKeys(map[string]string{c.keyVar: c.apiKey})
}

// Chat sends the system prompt, history and new message and returns the
// assistant's reply.
func (c *OpenAIClient) Chat(ctx context.Context, system string, history []provider.Message, message string) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range history {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    msgs,
		Temperature: 0.3,
		MaxTokens:   800,
	})
	if err != nil {
		return "", c.wrap(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s: empty completion: %w", c.provider, provider.ErrProviderUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateJSON requests a JSON object.  Images are attached inline when the
// backend supports vision; other media is described by a marker line.
func (c *OpenAIClient) GenerateJSON(ctx context.Context, system string, parts []provider.Part) (json.RawMessage, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	var texts []string
	var media []openai.ChatMessagePart
	for _, p := range parts {
		switch {
		case p.Text != "":
			texts = append(texts, p.Text)
		case len(p.Data) > 0 && c.vision && strings.HasPrefix(p.MIME, "image/"):
			media = append(media, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data),
				},
			})
		case len(p.Data) > 0:
			texts = append(texts, MediaMarker)
		}
	}
	text := strings.Join(texts, "\n")
	if len(media) == 0 {
		user.Content = text
	} else {
		user.MultiContent = append([]openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}, media...)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.structuredModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			user,
		},
		Temperature:    0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, c.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrInvalidJSON
	}
	return ParseJSON(resp.Choices[0].Message.Content)
}

// wrap marks rate limiting and server-side failures as transient.
func (c *OpenAIClient) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && transientStatus(apiErr.HTTPStatusCode) {
		return fmt.Errorf("%s: %w: %v", c.provider, provider.ErrProviderUnavailable, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && transientStatus(reqErr.HTTPStatusCode) {
		return fmt.Errorf("%s: %w: %v", c.provider, provider.ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%s: %w", c.provider, err)
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
