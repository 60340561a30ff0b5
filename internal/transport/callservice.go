package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CallService drives live voice calls through the companion call service.
// The service only moves audio; synthesis and transcription happen in the
// engine's provider chains.
//
//	POST /call/{user}          place (or reuse) a call
//	POST /call/{user}/play     stream the request body into the call
//	POST /call/{user}/capture  record {"listen_seconds": n}, respond with audio
//	POST /call/{user}/end      hang up
//
// This is not the ask/play JSON protocol of a speech-side call service; the
// service must expose the audio-only endpoints above.
type CallService struct {
	base string
	http *http.Client
}

func NewCallService(baseURL string, timeout time.Duration) *CallService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CallService{base: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

// Configured reports whether a call service URL is set.
func (c *CallService) Configured() bool { return c != nil && c.base != "" }

func (c *CallService) PlaceCall(ctx context.Context, username string) error {
	_, _, err := c.post(ctx, username, "", "application/json", nil)
	return err
}

func (c *CallService) PlayAudio(ctx context.Context, username string, audio []byte, mime string) error {
	_, _, err := c.post(ctx, username, "/play", mime, audio)
	return err
}

// CaptureAudio records the patient's side of the call for the listen window
// and returns the audio with its MIME type.  An empty slice means silence.
func (c *CallService) CaptureAudio(ctx context.Context, username string, listen time.Duration) ([]byte, string, error) {
	secs := int(math.Ceil(listen.Seconds()))
	if secs < 1 {
		secs = 1
	}
	// the listen window runs inside the request
	ctx, cancel := context.WithTimeout(ctx, listen+c.http.Timeout)
	defer cancel()
	body, _ := json.Marshal(map[string]int{"listen_seconds": secs})
	audio, mime, err := c.post(ctx, username, "/capture", "application/json", body)
	if err != nil {
		return nil, "", err
	}
	if mime == "" || strings.HasPrefix(mime, "application/octet-stream") {
		mime = "audio/wav"
	}
	return audio, mime, nil
}

func (c *CallService) EndCall(ctx context.Context, username string) error {
	_, _, err := c.post(ctx, username, "/end", "application/json", nil)
	return err
}

func (c *CallService) post(ctx context.Context, username, action, contentType string, body []byte) ([]byte, string, error) {
	if !c.Configured() {
		return nil, "", fmt.Errorf("callservice: CALL_SERVICE_URL not set")
	}
	u := c.base + "/call/" + url.PathEscape(strings.TrimPrefix(username, "@")) + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", contentType)
	// capture may outlive the client timeout; ctx bounds it instead
	hc := *c.http
	if action == "/capture" {
		hc.Timeout = 0
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("callservice%s: %w", action, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", fmt.Errorf("callservice%s: read: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(out, &e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return nil, "", fmt.Errorf("callservice%s: %s", action, e.Error)
	}
	return out, resp.Header.Get("Content-Type"), nil
}
