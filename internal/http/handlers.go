package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"checkin-assistant/internal/core"
	"checkin-assistant/internal/session"
	"checkin-assistant/internal/transport"
	"checkin-assistant/pkg"
)

const maxUpdateBytes = 1 << 20

// Triggerer starts check-ins by patient id.
type Triggerer interface {
	Trigger(ctx context.Context, patientID string, mode session.DeliveryMode, consent bool) (core.TriggerResult, error)
}

// Inbound routes chat messages.
type Inbound interface {
	Handle(ctx context.Context, in pkg.InboundMessage) error
}

// Queue runs work for a conversation key in the background.
type Queue interface {
	Submit(key string, fn func(ctx context.Context) error)
}

// Directory learns which conversation a username writes from.
type Directory interface {
	Remember(ctx context.Context, in pkg.InboundMessage)
}

// Backlog reports how many backend writes are waiting for replay.
type Backlog interface {
	Pending(ctx context.Context) (int, error)
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.Server.
type Server struct {
	Checkins Triggerer
	Router   Inbound
	Queue    Queue
	Users    Directory
	// WebhookSecret, when set, must match the
	// X-Telegram-Bot-Api-Secret-Token header of every update.
	WebhookSecret string
	// Outbox is reported on /healthz when set.
	Outbox Backlog
	Log    *slog.Logger
}

// NewServer constructs a Server.
func NewServer(checkins Triggerer, router Inbound, queue Queue, users Directory, secret string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Checkins:      checkins,
		Router:        router,
		Queue:         queue,
		Users:         users,
		WebhookSecret: secret,
		Log:           log,
	}
}

// ServeHTTP dispatches incoming requests based on the URL path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	// Trigger a check-in: POST /checkin/{patient-uuid}?type=text|call
	case strings.HasPrefix(path, "/checkin/") && r.Method == http.MethodPost:
		s.handleTrigger(w, r, strings.TrimPrefix(path, "/checkin/"))
	// Chat updates pushed by the messaging platform
	case path == "/webhook/chat" && r.Method == http.MethodPost:
		s.handleWebhook(w, r)
	case path == "/healthz" && r.Method == http.MethodGet:
		s.handleHealth(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not found"})
	}
}

// handleTrigger starts a check-in for the patient in the path.  Anything
// other than a bare UUID is a 404; a check-in that cannot be started is a
// 400 carrying the reason.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request, raw string) {
	id, err := uuid.Parse(raw)
	if err != nil || strings.Contains(raw, "/") {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not found"})
		return
	}
	if s.Checkins == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Bot client not ready"})
		return
	}
	q := r.URL.Query()
	mode := session.ParseDeliveryMode(q.Get("type"))
	consent, _ := strconv.ParseBool(q.Get("consent"))

	res, err := s.Checkins.Trigger(r.Context(), id.String(), mode, consent)
	if err != nil {
		s.Log.Warn("check-in trigger failed", "patient_id", id, "mode", mode, "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":         false,
			"patient_id": id.String(),
			"error":      err.Error(),
		})
		return
	}
	s.Log.Info("check-in triggered", "patient_id", id, "key", res.Key, "mode", res.Mode)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"patient_id":    res.PatientID,
		"username":      res.Username,
		"delivery_mode": string(res.Mode),
	})
}

// handleWebhook acknowledges the update at once and hands the message to
// the conversation's queue.  Updates we do not handle are acknowledged too
// so the platform does not redeliver them.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.WebhookSecret != "" {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.WebhookSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "bad secret"})
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	in, ok, err := transport.ParseUpdate(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if ok {
		if s.Users != nil {
			s.Users.Remember(r.Context(), in)
		}
		s.Queue.Submit(in.Key, func(ctx context.Context) error {
			return s.Router.Handle(ctx, in)
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleHealth reports liveness and, with a database, the outbox backlog.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"ok": true}
	if s.Outbox != nil {
		n, err := s.Outbox.Pending(r.Context())
		if err != nil {
			s.Log.Warn("outbox backlog unavailable", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "database unavailable"})
			return
		}
		resp["outbox_pending"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
