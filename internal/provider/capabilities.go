package provider

import (
	"context"
	"encoding/json"
)

// Capability names used in logs and errors.
const (
	CapabilitySTT        = "stt"
	CapabilityTTS        = "tts"
	CapabilityChat       = "llm-chat"
	CapabilityStructured = "llm-structured"
)

// Backend is implemented by every concrete provider.
type Backend interface {
	Name() string
	// MissingConfig reports required configuration keys that are unset.
	MissingConfig() []string
}

// Message is one chat turn.  Role is "system", "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// Part is one piece of a multimodal prompt.  Exactly one of Text or Data is
// set; Data carries MIME.
type Part struct {
	Text string
	MIME string
	Data []byte
}

// TextPart is shorthand for a text-only part.
func TextPart(s string) Part { return Part{Text: s} }

// Transcriber converts audio to text.
type Transcriber interface {
	Backend
	Transcribe(ctx context.Context, audio []byte, mime string) (string, error)
}

// Synthesizer converts text to audio (OGG/Opus or MP3 bytes).
type Synthesizer interface {
	Backend
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ChatModel produces a free-text reply.
type ChatModel interface {
	Backend
	Chat(ctx context.Context, system string, history []Message, message string) (string, error)
}

// StructuredModel produces a JSON document.
type StructuredModel interface {
	Backend
	GenerateJSON(ctx context.Context, system string, parts []Part) (json.RawMessage, error)
}

// STTRequest is the input of an STT chain.
type STTRequest struct {
	Audio []byte
	MIME  string
}

// ChatRequest is the input of a chat chain.
type ChatRequest struct {
	System  string
	History []Message
	Message string
}

// StructuredRequest is the input of a structured chain.
type StructuredRequest struct {
	System string
	Parts  []Part
}

type (
	STTChain        = Chain[STTRequest, string]
	TTSChain        = Chain[string, []byte]
	ChatChain       = Chain[ChatRequest, string]
	StructuredChain = Chain[StructuredRequest, json.RawMessage]
)

// NewSTTChain builds an STT chain from transcribers in priority order.
func NewSTTChain(opts Options, backends ...Transcriber) *STTChain {
	cands := make([]Candidate[STTRequest, string], 0, len(backends))
	for _, b := range backends {
		b := b
		cands = append(cands, Candidate[STTRequest, string]{
			Name:    b.Name(),
			Missing: b.MissingConfig(),
			Invoke: func(ctx context.Context, req STTRequest) (string, error) {
				return b.Transcribe(ctx, req.Audio, req.MIME)
			},
		})
	}
	return NewChain(CapabilitySTT, opts, cands...)
}

// NewTTSChain builds a TTS chain from synthesizers in priority order.
func NewTTSChain(opts Options, backends ...Synthesizer) *TTSChain {
	cands := make([]Candidate[string, []byte], 0, len(backends))
	for _, b := range backends {
		b := b
		cands = append(cands, Candidate[string, []byte]{
			Name:    b.Name(),
			Missing: b.MissingConfig(),
			Invoke: func(ctx context.Context, text string) ([]byte, error) {
				return b.Synthesize(ctx, text)
			},
		})
	}
	return NewChain(CapabilityTTS, opts, cands...)
}

// NewChatChain builds a chat chain from models in priority order.
func NewChatChain(opts Options, backends ...ChatModel) *ChatChain {
	cands := make([]Candidate[ChatRequest, string], 0, len(backends))
	for _, b := range backends {
		b := b
		cands = append(cands, Candidate[ChatRequest, string]{
			Name:    b.Name(),
			Missing: b.MissingConfig(),
			Invoke: func(ctx context.Context, req ChatRequest) (string, error) {
				return b.Chat(ctx, req.System, req.History, req.Message)
			},
		})
	}
	return NewChain(CapabilityChat, opts, cands...)
}

// NewStructuredChain builds a structured-output chain from models in
// priority order.
func NewStructuredChain(opts Options, backends ...StructuredModel) *StructuredChain {
	cands := make([]Candidate[StructuredRequest, json.RawMessage], 0, len(backends))
	for _, b := range backends {
		b := b
		cands = append(cands, Candidate[StructuredRequest, json.RawMessage]{
			Name:    b.Name(),
			Missing: b.MissingConfig(),
			Invoke: func(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
				return b.GenerateJSON(ctx, req.System, req.Parts)
			},
		})
	}
	return NewChain(CapabilityStructured, opts, cands...)
}
