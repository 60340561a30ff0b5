package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"checkin-assistant/internal/provider"
)

// LocalWhisper posts audio to a self-hosted Whisper server's /transcribe
// endpoint.  It is usually first in the STT chain.
type LocalWhisper struct {
	BaseURL  string
	APIKey   string
	Language string
	HTTP     *http.Client
}

// NewLocalWhisper returns a client for the server at baseURL.
func NewLocalWhisper(baseURL, apiKey, language string, timeout time.Duration) *LocalWhisper {
	return &LocalWhisper{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		Language: language,
		HTTP:     httpClient(timeout),
	}
}

func (w *LocalWhisper) Name() string { return "whisper-local" }

func (w *LocalWhisper) MissingConfig() []string {
	return provider.MissingKeys(map[string]string{"STT_API_URL": w.BaseURL})
}

func (w *LocalWhisper) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	if mime == "" {
		mime = "audio/ogg"
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="audio`+extFor(mime)+`"`)
	h.Set("Content-Type", mime)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	if w.Language != "" {
		if err := mw.WriteField("language", w.Language); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL+"/transcribe", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if w.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.APIKey)
	}
	raw, err := do(w.HTTP, w.Name(), req)
	if err != nil {
		return "", err
	}
	var out struct {
		Text       string `json:"text"`
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%s: non-JSON response: %w", w.Name(), err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		text = strings.TrimSpace(out.Transcript)
	}
	if text == "" {
		return "", emptyTranscript(w.Name())
	}
	return text, nil
}

func extFor(mime string) string {
	switch {
	case strings.Contains(mime, "wav"):
		return ".wav"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return ".mp3"
	default:
		return ".ogg"
	}
}
