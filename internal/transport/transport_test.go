package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin-assistant/pkg"
)

func TestSendMessageRendersBold(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botT/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	tg := NewTelegram("T", time.Second).WithBaseURL(srv.URL)
	require.NoError(t, tg.SendMessage(context.Background(), "42", "**First Aid Advice:** keep <calm>"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>First Aid Advice:</b> keep &lt;calm&gt;", got["text"])
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"ok":false,"description":"Forbidden: bot was blocked by the user"}`)
	}))
	defer srv.Close()

	err := NewTelegram("T", time.Second).WithBaseURL(srv.URL).SendMessage(context.Background(), "1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestSendVoiceMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "7", r.FormValue("chat_id"))
		f, _, err := r.FormFile("voice")
		if assert.NoError(t, err) {
			b, _ := io.ReadAll(f)
			assert.Equal(t, "OggS", string(b))
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	require.NoError(t, NewTelegram("T", time.Second).WithBaseURL(srv.URL).SendVoice(context.Background(), "7", []byte("OggS")))
}

func TestDownloadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/botT/getFile":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"file_path":"photos/a.jpg"}}`)
		case "/file/botT/photos/a.jpg":
			_, _ = io.WriteString(w, "JPEG")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b, err := NewTelegram("T", time.Second).WithBaseURL(srv.URL).DownloadMedia(context.Background(), &pkg.Media{FileID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, "JPEG", string(b))
}

func TestActionReleaseStopsIndicator(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}))
	defer srv.Close()

	tg := NewTelegram("T", time.Second).WithBaseURL(srv.URL)
	release := tg.Action(context.Background(), "1", ActionTyping)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, 10*time.Millisecond)
	release()
	release()
	n := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&calls))
}

func TestParseUpdate(t *testing.T) {
	in, ok, err := ParseUpdate([]byte(`{"update_id":1,"message":{"from":{"id":5,"username":"ana_p"},"chat":{"id":5,"type":"private"},"text":" yes "}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pkg.InboundMessage{Key: "5", SenderID: "5", Username: "ana_p", Text: "yes"}, in)

	in, ok, _ = ParseUpdate([]byte(`{"message":{"chat":{"id":5,"type":"private"},"caption":"my leg","photo":[{"file_id":"s"},{"file_id":"l"}]}}`))
	require.True(t, ok)
	assert.Equal(t, "my leg", in.Text)
	assert.Equal(t, &pkg.Media{Kind: pkg.MediaPhoto, FileID: "l", MIME: "image/jpeg"}, in.Media)

	in, ok, _ = ParseUpdate([]byte(`{"message":{"chat":{"id":5,"type":"private"},"location":{"latitude":1.5,"longitude":2.5}}}`))
	require.True(t, ok)
	assert.Equal(t, pkg.MediaLocation, in.Media.Kind)

	_, ok, _ = ParseUpdate([]byte(`{"message":{"chat":{"id":-100,"type":"group"},"text":"hi"}}`))
	assert.False(t, ok)

	_, _, err = ParseUpdate([]byte(`not json`))
	assert.Error(t, err)
}

func TestCallServiceRoundTrip(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/capture") {
			var in map[string]int
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, 8, in["listen_seconds"])
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = io.WriteString(w, "RIFF")
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewCallService(srv.URL, time.Second)
	ctx := context.Background()
	require.NoError(t, c.PlaceCall(ctx, "@ana_p"))
	require.NoError(t, c.PlayAudio(ctx, "ana_p", []byte("mp3"), "audio/mpeg"))
	audio, mime, err := c.CaptureAudio(ctx, "ana_p", 7500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(audio))
	assert.Equal(t, "audio/wav", mime)
	require.NoError(t, c.EndCall(ctx, "ana_p"))
	assert.Equal(t, []string{"/call/ana_p", "/call/ana_p/play", "/call/ana_p/capture", "/call/ana_p/end"}, paths)
}

func TestCallServiceErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"ok":false,"error":"Call client not ready."}`)
	}))
	defer srv.Close()

	err := NewCallService(srv.URL, time.Second).PlaceCall(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Call client not ready.")
	assert.False(t, NewCallService("", 0).Configured())
}

func TestResolveKey(t *testing.T) {
	ctx := context.Background()
	tg := NewTelegram("T", time.Second)

	_, err := tg.ResolveKey(ctx, "@ana_p")
	assert.ErrorIs(t, err, ErrUnknownUser)

	tg.Remember(ctx, pkg.InboundMessage{Key: "42", Username: "Ana_P"})
	key, err := tg.ResolveKey(ctx, "@ana_p")
	require.NoError(t, err)
	assert.Equal(t, "42", key)

	key, err = tg.ResolveKey(ctx, "777")
	require.NoError(t, err)
	assert.Equal(t, "777", key)
}
