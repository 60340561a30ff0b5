package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkin-assistant/internal/provider"
)

// DeepgramBaseURL is the public Deepgram API.
const DeepgramBaseURL = "https://api.deepgram.com/v1"

// Deepgram implements both STT (/listen) and TTS (/speak).
type Deepgram struct {
	BaseURL  string
	APIKey   string
	STTModel string
	TTSModel string
	HTTP     *http.Client
}

// NewDeepgram returns a Deepgram client.  Empty models use nova-2 and
// aura-asteria-en.
func NewDeepgram(apiKey, sttModel, ttsModel string, timeout time.Duration) *Deepgram {
	if sttModel == "" {
		sttModel = "nova-2"
	}
	if ttsModel == "" {
		ttsModel = "aura-asteria-en"
	}
	return &Deepgram{
		BaseURL:  DeepgramBaseURL,
		APIKey:   apiKey,
		STTModel: sttModel,
		TTSModel: ttsModel,
		HTTP:     httpClient(timeout),
	}
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) MissingConfig() []string {
	return provider.MissingKeys(map[string]string{"DEEPGRAM_API_KEY": d.APIKey})
}

func (d *Deepgram) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	if mime == "" {
		mime = "audio/ogg"
	}
	q := url.Values{}
	q.Set("model", d.STTModel)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/listen?"+q.Encode(), bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+d.APIKey)
	req.Header.Set("Content-Type", mime)
	raw, err := do(d.HTTP, "deepgram-stt", req)
	if err != nil {
		return "", err
	}
	var out struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("deepgram-stt: non-JSON response: %w", err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return "", emptyTranscript("deepgram-stt")
	}
	text := strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript)
	if text == "" {
		return "", emptyTranscript("deepgram-stt")
	}
	return text, nil
}

// Synthesize returns Opus audio in an Ogg container, the format chat voice
// notes expect.
func (d *Deepgram) Synthesize(ctx context.Context, text string) ([]byte, error) {
	q := url.Values{}
	q.Set("model", d.TTSModel)
	q.Set("encoding", "opus")
	q.Set("container", "ogg")
	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/speak?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+d.APIKey)
	req.Header.Set("Content-Type", "application/json")
	audio, err := do(d.HTTP, "deepgram-tts", req)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("deepgram-tts: empty audio: %w", provider.ErrProviderUnavailable)
	}
	return audio, nil
}
