package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-assistant/pkg"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", "/api/v1/", "tok", time.Second, 8)
	require.NoError(t, err)
	return c
}

func TestPatientByUsernameIsCached(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/api/v1/users/patients/telegram/ana_p", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"ID":"p-1","TelegramUsername":"ana_p","FirstName":"Ana"}`)
	})

	for i := 0; i < 3; i++ {
		ref, err := c.PatientByUsername(context.Background(), "@Ana_P")
		require.NoError(t, err)
		assert.Equal(t, "p-1", ref.ID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestPatientByUsernameNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.PatientByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPatientWithHistoryMergesUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/patients/p-1/full", r.URL.Path)
		_, _ = io.WriteString(w, `{
			"user": {"ID":"u-1","FirstName":"Ana","TelegramUsername":"ana_p"},
			"patient": {"ID":"p-1","UserID":"u-1","RiskLevel":"HIGH"},
			"checkins": [{"ID":"c-0","Status":"COMPLETED","Questions":[{"seq":1,"text":"Pain?"}],"Answers":[{"seq":1,"answer":"no"}]}],
			"vital_readings": [{"heart_rate": 80}]
		}`)
	})
	h, err := c.PatientWithHistory(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", h.Patient.User.FirstName)
	assert.Equal(t, "HIGH", h.Patient.RiskLevel)
	require.Len(t, h.Checkins, 1)
	assert.Equal(t, "Pain?", h.Checkins[0].Questions[0].Text)
	assert.Len(t, h.Vitals, 1)
}

func TestActiveCheckinNoneOn404(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	id, err := c.ActiveCheckin(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestStartCheckinAcceptsLowercaseID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "p-1", in["patient_id"])
		_, _ = io.WriteString(w, `{"id":"c-9"}`)
	})
	id, err := c.StartCheckin(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "c-9", id)
}

func TestPostAnswersAndPatchAnalysis(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		switch r.Method {
		case http.MethodPost:
			assert.JSONEq(t, `{"items":[{"seq":2,"answer":"yes"}]}`, string(b))
		case http.MethodPatch:
			assert.Contains(t, string(b), `"risk_score":80`)
		}
	})
	ctx := context.Background()
	require.NoError(t, c.PostAnswers(ctx, "c-1", []pkg.AnswerItem{{Seq: 2, Answer: "yes"}}))
	require.NoError(t, c.PatchAnalysis(ctx, "c-1", pkg.Analysis{RiskScore: 80}))
	assert.Equal(t, []string{"POST /api/v1/checkins/c-1/answers", "PATCH /api/v1/checkins/c-1/analysis"}, paths)
}

func TestServerErrorIsReported(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "db down")
	})
	err := c.EndCheckin(context.Background(), "u-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
