// Package speech holds the STT and TTS backends used by the provider chains.
package speech

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"checkin-assistant/internal/provider"
)

const defaultTimeout = 30 * time.Second

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// do executes req and returns the body of a 2xx response.  429 and 5xx are
// reported as provider.ErrProviderUnavailable.
func do(c *http.Client, name string, req *http.Request) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", name, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%s: status %d: %w", name, resp.StatusCode, provider.ErrProviderUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: unexpected status %s: %s", name, resp.Status, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func emptyTranscript(name string) error {
	return fmt.Errorf("%s: %w", name, provider.ErrTranscriptionEmpty)
}
