package llm

import (
	"encoding/json"
	"strings"
)

// MediaMarker replaces media parts for backends that only accept text.
const MediaMarker = "[Media attachment noted]"

// StripCodeFence removes a surrounding ``` or ```json fence, which models
// add even when told not to.
func StripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	if i := strings.Index(t, "\n"); i >= 0 {
		t = t[i+1:]
	} else {
		t = strings.TrimPrefix(t, "```")
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// ParseJSON strips fences and checks that text is a JSON document.
func ParseJSON(text string) (json.RawMessage, error) {
	cleaned := StripCodeFence(text)
	if cleaned == "" || !json.Valid([]byte(cleaned)) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(cleaned), nil
}
