package speech

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"checkin-assistant/internal/provider"
)

// TranslateTTSURL is the Google Translate speech endpoint.
const TranslateTTSURL = "https://translate.google.com/translate_tts"

// maxChunk is the longest text the endpoint accepts per request.
const maxChunk = 200

// TranslateTTS synthesizes MP3 speech through Google Translate.  It needs no
// credentials and is the default first TTS backend.
type TranslateTTS struct {
	URL      string
	Language string
	HTTP     *http.Client
}

func NewTranslateTTS(language string, timeout time.Duration) *TranslateTTS {
	if language == "" {
		language = "en"
	}
	return &TranslateTTS{URL: TranslateTTSURL, Language: language, HTTP: httpClient(timeout)}
}

func (g *TranslateTTS) Name() string { return "gtts" }

func (g *TranslateTTS) MissingConfig() []string { return nil }

// Synthesize requests each chunk of text in turn and concatenates the MP3
// frames.
func (g *TranslateTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	chunks := splitText(text, maxChunk)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("gtts: empty text")
	}
	var out bytes.Buffer
	for i, c := range chunks {
		q := url.Values{}
		q.Set("ie", "UTF-8")
		q.Set("client", "tw-ob")
		q.Set("tl", g.Language)
		q.Set("q", c)
		q.Set("total", fmt.Sprint(len(chunks)))
		q.Set("idx", fmt.Sprint(i))
		q.Set("textlen", fmt.Sprint(len(c)))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		b, err := do(g.HTTP, g.Name(), req)
		if err != nil {
			return nil, err
		}
		out.Write(b)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("gtts: empty audio: %w", provider.ErrProviderUnavailable)
	}
	return out.Bytes(), nil
}

// splitText breaks text into pieces of at most n bytes, preferring sentence
// and word boundaries.
func splitText(text string, n int) []string {
	text = strings.Join(strings.Fields(text), " ")
	var chunks []string
	for len(text) > n {
		cut := strings.LastIndexAny(text[:n], ".!?;,")
		if cut <= 0 {
			cut = strings.LastIndexFunc(text[:n], unicode.IsSpace)
		}
		if cut <= 0 {
			cut = n - 1
			// keep multi-byte runes intact
			for cut > 0 && !isRuneStart(text[cut+1]) {
				cut--
			}
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut+1]))
		text = strings.TrimSpace(text[cut+1:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
