package main

import (
	"fmt"
	"log/slog"
	"time"

	"checkin-assistant/internal/archive"
	"checkin-assistant/internal/config"
	"checkin-assistant/internal/llm"
	"checkin-assistant/internal/provider"
	"checkin-assistant/internal/speech"
	"checkin-assistant/internal/worker"
)

// chains holds one fallback chain per capability.
type chains struct {
	STT        *provider.STTChain
	TTS        *provider.TTSChain
	Chat       *provider.ChatChain
	Structured *provider.StructuredChain
}

// buildChains instantiates the backends named in each chain's order.
// Backends with missing credentials stay in the chain and are skipped at
// call time.
func buildChains(cfg *config.Config, pool *worker.Pool, log *slog.Logger) (*chains, error) {
	keys, models := cfg.Keys, cfg.Models
	httpTimeout := func(c config.ChainConfig) time.Duration {
		if c.Timeout > 0 {
			return c.Timeout
		}
		return 60 * time.Second
	}

	openaiAudio := speech.NewOpenAIAudio(keys.OpenAI, "", models.OpenAITTS, models.OpenAIVoice, cfg.Language)
	deepgram := speech.NewDeepgram(keys.Deepgram, models.DeepgramSTT, models.DeepgramTTS, httpTimeout(cfg.Providers.STT))
	openaiLLM := llm.NewOpenAIClient(keys.OpenAI, models.OpenAIChat, models.OpenAIStructured)
	groq := llm.NewGroqClient(keys.Groq, models.Groq)
	gemini := llm.NewGeminiClient(keys.Gemini, models.Gemini)

	var out chains
	var transcribers []provider.Transcriber
	opts, err := chainOptions(cfg.Providers.STT, pool, log)
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.Providers.STT.Order {
		switch name {
		case "whisper-local":
			transcribers = append(transcribers, speech.NewLocalWhisper(keys.STTURL, keys.STTKey, cfg.Language, httpTimeout(cfg.Providers.STT)))
		case "deepgram":
			transcribers = append(transcribers, deepgram)
		case "groq-whisper":
			transcribers = append(transcribers, speech.NewGroqWhisper(keys.Groq, models.GroqWhisper, cfg.Language))
		case "openai":
			transcribers = append(transcribers, openaiAudio)
		default:
			return nil, fmt.Errorf("stt: unknown backend %q", name)
		}
	}
	out.STT = provider.NewSTTChain(opts, transcribers...)

	var synthesizers []provider.Synthesizer
	if opts, err = chainOptions(cfg.Providers.TTS, pool, log); err != nil {
		return nil, err
	}
	for _, name := range cfg.Providers.TTS.Order {
		switch name {
		case "gtts":
			synthesizers = append(synthesizers, speech.NewTranslateTTS(cfg.Language, httpTimeout(cfg.Providers.TTS)))
		case "deepgram":
			synthesizers = append(synthesizers, deepgram)
		case "openai":
			synthesizers = append(synthesizers, openaiAudio)
		default:
			return nil, fmt.Errorf("tts: unknown backend %q", name)
		}
	}
	out.TTS = provider.NewTTSChain(opts, synthesizers...)

	llms := map[string]interface {
		provider.ChatModel
		provider.StructuredModel
	}{"openai": openaiLLM, "groq": groq, "gemini": gemini}

	var chatModels []provider.ChatModel
	if opts, err = chainOptions(cfg.Providers.Chat, pool, log); err != nil {
		return nil, err
	}
	for _, name := range cfg.Providers.Chat.Order {
		m, ok := llms[name]
		if !ok {
			return nil, fmt.Errorf("llm-chat: unknown backend %q", name)
		}
		chatModels = append(chatModels, m)
	}
	out.Chat = provider.NewChatChain(opts, chatModels...)

	var structured []provider.StructuredModel
	if opts, err = chainOptions(cfg.Providers.Structured, pool, log); err != nil {
		return nil, err
	}
	for _, name := range cfg.Providers.Structured.Order {
		m, ok := llms[name]
		if !ok {
			return nil, fmt.Errorf("llm-structured: unknown backend %q", name)
		}
		structured = append(structured, m)
	}
	out.Structured = provider.NewStructuredChain(opts, structured...)
	return &out, nil
}

func chainOptions(c config.ChainConfig, pool *worker.Pool, log *slog.Logger) (provider.Options, error) {
	policy, err := provider.ParsePolicy(c.Policy)
	if err != nil {
		return provider.Options{}, err
	}
	return provider.Options{Policy: policy, Timeout: c.Timeout, Runner: pool, Log: log}, nil
}

func newArchive(c config.ArchiveConfig) (*archive.S3Archive, error) {
	return archive.NewS3Archive(archive.S3Config{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	})
}
