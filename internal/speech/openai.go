package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"checkin-assistant/internal/provider"
)

// OpenAIAudio uses the OpenAI audio endpoints: Whisper transcription and
// text-to-speech.  Groq exposes a compatible transcription endpoint and is
// built with NewGroqWhisper.
type OpenAIAudio struct {
	client   *openai.Client
	name     string
	keyVar   string
	apiKey   string
	sttModel string
	ttsModel openai.SpeechModel
	voice    openai.SpeechVoice
	language string
}

// NewOpenAIAudio returns an OpenAI audio client.  Empty models default to
// whisper-1 and tts-1.
func NewOpenAIAudio(apiKey, sttModel, ttsModel, voice, language string) *OpenAIAudio {
	if sttModel == "" {
		sttModel = openai.Whisper1
	}
	if ttsModel == "" {
		ttsModel = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAIAudio{
		client:   openai.NewClient(apiKey),
		name:     "openai-audio",
		keyVar:   "OPENAI_API_KEY",
		apiKey:   apiKey,
		sttModel: sttModel,
		ttsModel: openai.SpeechModel(ttsModel),
		voice:    openai.SpeechVoice(voice),
		language: language,
	}
}

// NewGroqWhisper returns a transcriber backed by Groq's hosted Whisper.
func NewGroqWhisper(apiKey, model, language string) *OpenAIAudio {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = "https://api.groq.com/openai/v1"
	return &OpenAIAudio{
		client:   openai.NewClientWithConfig(cfg),
		name:     "groq-whisper",
		keyVar:   "GROQ_API_KEY",
		apiKey:   apiKey,
		sttModel: model,
		language: language,
	}
}

func (o *OpenAIAudio) Name() string { return o.name }

func (o *OpenAIAudio) MissingConfig() []string {
	return provider.MissingKeys(map[string]string{o.keyVar: o.apiKey})
}

func (o *OpenAIAudio) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.sttModel,
		FilePath: "audio" + extFor(mime),
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatJSON,
		Language: o.language,
	})
	if err != nil {
		return "", o.wrap(err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", emptyTranscript(o.name)
	}
	return text, nil
}

// Synthesize returns Opus audio.
func (o *OpenAIAudio) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if o.ttsModel == "" {
		return nil, fmt.Errorf("%s: speech synthesis not supported", o.name)
	}
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.ttsModel,
		Input:          text,
		Voice:          o.voice,
		ResponseFormat: openai.SpeechResponseFormatOpus,
	})
	if err != nil {
		return nil, o.wrap(err)
	}
	defer resp.Close()
	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: read audio: %w", o.name, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%s: empty audio: %w", o.name, provider.ErrProviderUnavailable)
	}
	return audio, nil
}

func (o *OpenAIAudio) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && transient(apiErr.HTTPStatusCode) {
		return fmt.Errorf("%s: %w: %v", o.name, provider.ErrProviderUnavailable, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && transient(reqErr.HTTPStatusCode) {
		return fmt.Errorf("%s: %w: %v", o.name, provider.ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%s: %w", o.name, err)
}

func transient(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
