// Package transport holds the chat and voice adapters the engine talks to.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"checkin-assistant/pkg"
)

// TelegramAPI is the public Bot API host.
const TelegramAPI = "https://api.telegram.org"

// Chat actions understood by Action.
const (
	ActionTyping      = "typing"
	ActionRecordVoice = "record_voice"
)

// actionRefresh keeps an indicator alive; Telegram clears it after ~5s.
const actionRefresh = 4 * time.Second

// Telegram is a Bot API client.  Conversation keys are chat ids.
type Telegram struct {
	api       string
	token     string
	http      *http.Client
	Directory Directory
	Log       *slog.Logger
}

func NewTelegram(token string, timeout time.Duration) *Telegram {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Telegram{
		api:       TelegramAPI,
		token:     token,
		http:      &http.Client{Timeout: timeout},
		Directory: NewMemoryDirectory(),
		Log:       slog.Default(),
	}
}

// ResolveKey returns the chat id for username.  A numeric value is taken as
// a chat id already.
func (t *Telegram) ResolveKey(ctx context.Context, username string) (string, error) {
	u := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if _, err := strconv.ParseInt(u, 10, 64); err == nil {
		return u, nil
	}
	key, err := t.Directory.Lookup(ctx, u)
	if err != nil {
		return "", fmt.Errorf("telegram: resolve @%s: %w", u, err)
	}
	return key, nil
}

// Remember records the sender of an inbound message.
func (t *Telegram) Remember(ctx context.Context, in pkg.InboundMessage) {
	if in.Username == "" {
		return
	}
	if err := t.Directory.Remember(ctx, in.Username, in.Key); err != nil {
		t.Log.Warn("directory remember failed", "username", in.Username, "err", err)
	}
}

// WithBaseURL points the client at another Bot API server.
func (t *Telegram) WithBaseURL(u string) *Telegram {
	t.api = strings.TrimRight(u, "/")
	return t
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SendMessage sends text.  **bold** spans are rendered as bold.
func (t *Telegram) SendMessage(ctx context.Context, key, text string) error {
	_, err := t.call(ctx, "sendMessage", map[string]any{
		"chat_id":    key,
		"text":       renderHTML(text),
		"parse_mode": "HTML",
	})
	return err
}

// SendVoice uploads Ogg/Opus audio as a voice note.
func (t *Telegram) SendVoice(ctx context.Context, key string, audio []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", key); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("voice", "prompt.ogg")
	if err != nil {
		return err
	}
	if _, err := fw.Write(audio); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.method("sendVoice"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err = t.send(req, "sendVoice")
	return err
}

// DownloadMedia fetches an attachment's bytes by file id.
func (t *Telegram) DownloadMedia(ctx context.Context, m *pkg.Media) ([]byte, error) {
	if m == nil || m.FileID == "" {
		return nil, errors.New("telegram: media has no file id")
	}
	raw, err := t.call(ctx, "getFile", map[string]any{"file_id": m.FileID})
	if err != nil {
		return nil, err
	}
	var f struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(raw, &f); err != nil || f.FilePath == "" {
		return nil, fmt.Errorf("telegram: getFile returned no path")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.api+"/file/bot"+t.token+"/"+f.FilePath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download: status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
}

// Action shows a chat indicator until the returned release func is called.
// Failures to send the indicator are logged and never block the caller.
// Calling release more than once is safe.
func (t *Telegram) Action(ctx context.Context, key, action string) (release func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(actionRefresh)
		defer tick.Stop()
		for {
			if _, err := t.call(ctx, "sendChatAction", map[string]any{"chat_id": key, "action": action}); err != nil && ctx.Err() == nil {
				t.Log.Debug("chat action failed", "key", key, "action", action, "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (t *Telegram) method(name string) string {
	return t.api + "/bot" + t.token + "/" + name
}

func (t *Telegram) call(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.method(name), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.send(req, name)
}

func (t *Telegram) send(req *http.Request, name string) (json.RawMessage, error) {
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s: %w", name, err)
	}
	defer resp.Body.Close()
	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("telegram: %s: status %s: %w", name, resp.Status, err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram: %s: %s", name, out.Description)
	}
	return out.Result, nil
}

var boldRE = regexp.MustCompile(`\*\*(.+?)\*\*`)

func renderHTML(text string) string {
	return boldRE.ReplaceAllString(html.EscapeString(text), "<b>$1</b>")
}

// Update is the subset of a Bot API update the webhook consumes.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	From *struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	} `json:"chat"`
	Text    string `json:"text"`
	Caption string `json:"caption"`
	Photo   []struct {
		FileID   string `json:"file_id"`
		FileSize int    `json:"file_size"`
	} `json:"photo"`
	Voice *struct {
		FileID   string `json:"file_id"`
		MIMEType string `json:"mime_type"`
	} `json:"voice"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

// ParseUpdate turns a webhook body into an inbound message.  It returns
// false for updates that are not private messages.
func ParseUpdate(body []byte) (pkg.InboundMessage, bool, error) {
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return pkg.InboundMessage{}, false, fmt.Errorf("telegram: decode update: %w", err)
	}
	m := u.Message
	if m == nil || m.Chat.Type != "private" {
		return pkg.InboundMessage{}, false, nil
	}
	in := pkg.InboundMessage{
		Key:  strconv.FormatInt(m.Chat.ID, 10),
		Text: strings.TrimSpace(m.Text),
	}
	if in.Text == "" {
		in.Text = strings.TrimSpace(m.Caption)
	}
	if m.From != nil {
		in.SenderID = strconv.FormatInt(m.From.ID, 10)
		in.Username = m.From.Username
	}
	switch {
	case m.Location != nil:
		in.Media = &pkg.Media{Kind: pkg.MediaLocation, Latitude: m.Location.Latitude, Longitude: m.Location.Longitude}
	case m.Voice != nil:
		mime := m.Voice.MIMEType
		if mime == "" {
			mime = "audio/ogg"
		}
		in.Media = &pkg.Media{Kind: pkg.MediaVoice, FileID: m.Voice.FileID, MIME: mime}
	case len(m.Photo) > 0:
		// sizes are ascending; take the largest
		in.Media = &pkg.Media{Kind: pkg.MediaPhoto, FileID: m.Photo[len(m.Photo)-1].FileID, MIME: "image/jpeg"}
	}
	if in.Text == "" && in.Media == nil {
		return pkg.InboundMessage{}, false, nil
	}
	return in, true, nil
}
