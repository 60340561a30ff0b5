// Package backend is the REST client for the patient record service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"checkin-assistant/pkg"
)

// ErrNotFound is returned for 404 responses on lookups.
var ErrNotFound = errors.New("backend: not found")

// Client talks to {BaseURL}/{APIVersion} with a bearer token.  Username
// lookups are cached since every consent and emergency message repeats them.
type Client struct {
	base       string
	token      string
	http       *http.Client
	byUsername *lru.Cache[string, pkg.PatientRef]
	Log        *slog.Logger
}

// New builds a client.  cacheSize <= 0 disables the username cache.
func New(baseURL, apiVersion, token string, timeout time.Duration, cacheSize int) (*Client, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := strings.TrimRight(baseURL, "/")
	if v := strings.Trim(apiVersion, "/"); v != "" {
		base += "/" + v
	}
	c := &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: timeout},
		Log:   slog.Default(),
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, pkg.PatientRef](cacheSize)
		if err != nil {
			return nil, err
		}
		c.byUsername = cache
	}
	return c, nil
}

// PatientByUsername resolves a chat handle to the patient reference.
func (c *Client) PatientByUsername(ctx context.Context, username string) (*pkg.PatientRef, error) {
	u := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if u == "" {
		return nil, fmt.Errorf("backend: empty username")
	}
	key := strings.ToLower(u)
	if c.byUsername != nil {
		if ref, ok := c.byUsername.Get(key); ok {
			return &ref, nil
		}
	}
	var ref pkg.PatientRef
	if err := c.do(ctx, http.MethodGet, "/users/patients/telegram/"+url.PathEscape(u), nil, &ref); err != nil {
		return nil, err
	}
	if ref.ID == "" {
		return nil, fmt.Errorf("backend: username %s: %w", u, ErrNotFound)
	}
	if c.byUsername != nil {
		c.byUsername.Add(key, ref)
	}
	return &ref, nil
}

// PatientByID fetches the full patient record.
func (c *Client) PatientByID(ctx context.Context, id string) (*pkg.Patient, error) {
	var p pkg.Patient
	if err := c.do(ctx, http.MethodGet, "/users/patients/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type fullResponse struct {
	User     *pkg.User          `json:"user"`
	Patient  *pkg.Patient       `json:"patient"`
	Checkins []pkg.Checkin      `json:"checkins"`
	Vitals   []pkg.VitalReading `json:"vital_readings"`
}

// PatientWithHistory fetches the patient along with prior check-ins and
// vital readings.
func (c *Client) PatientWithHistory(ctx context.Context, id string) (*pkg.PatientHistory, error) {
	var full fullResponse
	if err := c.do(ctx, http.MethodGet, "/users/patients/"+url.PathEscape(id)+"/full", nil, &full); err != nil {
		return nil, err
	}
	if full.Patient == nil {
		return nil, fmt.Errorf("backend: patient %s: %w", id, ErrNotFound)
	}
	if full.User != nil {
		full.Patient.User = *full.User
	}
	return &pkg.PatientHistory{Patient: full.Patient, Checkins: full.Checkins, Vitals: full.Vitals}, nil
}

type idResponse struct {
	UpperID string `json:"ID"`
	LowerID string `json:"id"`
}

func (r idResponse) id() string {
	if r.UpperID != "" {
		return r.UpperID
	}
	return r.LowerID
}

// StartCheckin opens a new check-in for the patient and returns its id.
func (c *Client) StartCheckin(ctx context.Context, patientID string) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "/checkins/start", map[string]string{"patient_id": patientID}, &out); err != nil {
		return "", err
	}
	if out.id() == "" {
		return "", fmt.Errorf("backend: start check-in: response missing ID")
	}
	return out.id(), nil
}

// ActiveCheckin returns the id of the patient's open check-in, or "" if
// there is none.
func (c *Client) ActiveCheckin(ctx context.Context, patientUserID string) (string, error) {
	var out idResponse
	err := c.do(ctx, http.MethodGet, "/checkins/active/"+url.PathEscape(patientUserID), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return out.id(), nil
}

func (c *Client) PostQuestions(ctx context.Context, checkinID string, items []pkg.QuestionItem) error {
	return c.do(ctx, http.MethodPost, "/checkins/"+url.PathEscape(checkinID)+"/questions", map[string]any{"items": items}, nil)
}

func (c *Client) PostAnswers(ctx context.Context, checkinID string, items []pkg.AnswerItem) error {
	return c.do(ctx, http.MethodPost, "/checkins/"+url.PathEscape(checkinID)+"/answers", map[string]any{"items": items}, nil)
}

// EndCheckin closes the patient's open check-in.  The backend keys this by
// the patient's user id, not the check-in id.
func (c *Client) EndCheckin(ctx context.Context, patientUserID string) error {
	return c.do(ctx, http.MethodPost, "/checkins/"+url.PathEscape(patientUserID)+"/end", nil, nil)
}

func (c *Client) PatchAnalysis(ctx context.Context, checkinID string, a pkg.Analysis) error {
	return c.do(ctx, http.MethodPatch, "/checkins/"+url.PathEscape(checkinID)+"/analysis", a, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("backend: %s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.Log.Warn("backend request failed", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("backend: %s %s: unexpected status %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: %s %s: decode: %w", method, path, err)
	}
	return nil
}
