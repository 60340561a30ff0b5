// Package config loads service settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no path is given and it exists.
const DefaultFile = "providers.yaml"

type Config struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
	// NotifyChannel is the Postgres channel emergencies are announced on.
	NotifyChannel string `yaml:"notify_channel"`
	LogLevel      string `yaml:"log_level"`
	Language      string `yaml:"language"`
	Workers       int    `yaml:"workers"`

	Backend     BackendConfig     `yaml:"backend"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	CallService CallServiceConfig `yaml:"call_service"`
	Keys        Keys              `yaml:"-"`
	Models      Models            `yaml:"models"`
	Providers   Providers         `yaml:"providers"`
	Call        CallTiming        `yaml:"call"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Outbox      OutboxConfig      `yaml:"outbox"`
}

type BackendConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIVersion string        `yaml:"api_version"`
	Token      string        `yaml:"-"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cache_size"`
}

type TelegramConfig struct {
	BotToken      string        `yaml:"-"`
	APIURL        string        `yaml:"api_url"`
	WebhookSecret string        `yaml:"-"`
	Timeout       time.Duration `yaml:"timeout"`
}

type CallServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Keys are credentials; they only come from the environment.
type Keys struct {
	OpenAI   string
	Groq     string
	Gemini   string
	Deepgram string
	STTURL   string
	STTKey   string
}

type Models struct {
	OpenAIChat       string `yaml:"openai_chat"`
	OpenAIStructured string `yaml:"openai_structured"`
	Groq             string `yaml:"groq"`
	Gemini           string `yaml:"gemini"`
	GroqWhisper      string `yaml:"groq_whisper"`
	DeepgramSTT      string `yaml:"deepgram_stt"`
	DeepgramTTS      string `yaml:"deepgram_tts"`
	OpenAITTS        string `yaml:"openai_tts"`
	OpenAIVoice      string `yaml:"openai_voice"`
}

// ChainConfig orders a capability's backends by name.
type ChainConfig struct {
	Policy  string        `yaml:"policy"`
	Order   []string      `yaml:"order"`
	Timeout time.Duration `yaml:"timeout"`
}

type Providers struct {
	STT        ChainConfig `yaml:"stt"`
	TTS        ChainConfig `yaml:"tts"`
	Chat       ChainConfig `yaml:"chat"`
	Structured ChainConfig `yaml:"structured"`
}

// CallTiming tunes the voice loop.  The listen window for a prompt is
// ListenBase + len(prompt)*ListenPerChar clamped to [ListenMin, ListenMax].
type CallTiming struct {
	ListenBase    time.Duration `yaml:"listen_base"`
	ListenPerChar time.Duration `yaml:"listen_per_char"`
	ListenMin     time.Duration `yaml:"listen_min"`
	ListenMax     time.Duration `yaml:"listen_max"`
	FailurePause  time.Duration `yaml:"failure_pause"`
	SuccessPause  time.Duration `yaml:"success_pause"`
	MaxFailures   int           `yaml:"max_failures"`
}

type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

type OutboxConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Addr:          "0.0.0.0:8081",
		NotifyChannel: "checkin_emergencies",
		LogLevel:      "info",
		Language:      "en",
		Workers:       8,
		Backend: BackendConfig{
			BaseURL:    "http://localhost:8080/",
			APIVersion: "api/v1",
			Timeout:    15 * time.Second,
			CacheSize:  512,
		},
		Telegram:    TelegramConfig{Timeout: 20 * time.Second},
		CallService: CallServiceConfig{Timeout: 60 * time.Second},
		Providers: Providers{
			STT:        ChainConfig{Order: []string{"whisper-local", "deepgram", "groq-whisper", "openai"}, Timeout: 45 * time.Second},
			TTS:        ChainConfig{Order: []string{"gtts", "deepgram", "openai"}, Timeout: 30 * time.Second},
			Chat:       ChainConfig{Order: []string{"groq", "gemini", "openai"}, Timeout: 60 * time.Second},
			Structured: ChainConfig{Order: []string{"gemini", "openai", "groq"}, Timeout: 90 * time.Second},
		},
		Call: CallTiming{
			ListenBase:    6 * time.Second,
			ListenPerChar: 80 * time.Millisecond,
			ListenMin:     7 * time.Second,
			ListenMax:     20 * time.Second,
			FailurePause:  2 * time.Second,
			SuccessPause:  500 * time.Millisecond,
			MaxFailures:   3,
		},
		Archive: ArchiveConfig{Region: "us-east-1", Bucket: "checkin-emergency-media", UseSSL: true},
		Outbox:  OutboxConfig{Interval: 5 * time.Second, BatchSize: 20, MaxAttempts: 10},
	}
}

// Load reads .env, then path (or DefaultFile if path is empty and the file
// exists), then environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = firstNonEmpty(os.Getenv("CONFIG_FILE"), DefaultFile)
		explicit = os.Getenv("CONFIG_FILE") != ""
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if host, port := os.Getenv("CHECKIN_TRIGGER_HOST"), os.Getenv("CHECKIN_TRIGGER_PORT"); host != "" || port != "" {
		h, p := splitAddr(cfg.Addr)
		cfg.Addr = firstNonEmpty(host, h) + ":" + firstNonEmpty(port, p)
	}
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.NotifyChannel, "POSTGRES_NOTIFY_CHANNEL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Language, "STT_LANGUAGE")

	setString(&cfg.Backend.BaseURL, "BASE_URL")
	setString(&cfg.Backend.APIVersion, "API_VERSION")
	setString(&cfg.Backend.Token, "API_TOKEN")
	setString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.APIURL, "TELEGRAM_API_URL")
	setString(&cfg.Telegram.WebhookSecret, "TELEGRAM_WEBHOOK_SECRET")
	setString(&cfg.CallService.URL, "CALL_SERVICE_URL")

	setString(&cfg.Keys.OpenAI, "OPENAI_API_KEY")
	setString(&cfg.Keys.Groq, "GROQ_API_KEY")
	setString(&cfg.Keys.Gemini, "GEMINI_API_KEY")
	setString(&cfg.Keys.Deepgram, "DEEPGRAM_API_KEY")
	setString(&cfg.Keys.STTURL, "STT_API_URL")
	setString(&cfg.Keys.STTKey, "STT_API_KEY")

	setString(&cfg.Models.Gemini, "GEMINI_MODEL")
	setString(&cfg.Models.Groq, "GROQ_MODEL")
	setString(&cfg.Models.OpenAIChat, "OPENAI_MODEL")
	setString(&cfg.Models.DeepgramSTT, "DEEPGRAM_STT_MODEL")
	setString(&cfg.Models.DeepgramTTS, "DEEPGRAM_TTS_MODEL")

	setString(&cfg.Providers.STT.Policy, "STT_POLICY")
	setString(&cfg.Providers.TTS.Policy, "TTS_POLICY")
	setString(&cfg.Providers.Chat.Policy, "LLM_POLICY")
	setString(&cfg.Providers.Structured.Policy, "LLM_POLICY")
	setList(&cfg.Providers.STT.Order, "STT_ORDER")
	setList(&cfg.Providers.TTS.Order, "TTS_ORDER")
	setList(&cfg.Providers.Chat.Order, "LLM_CHAT_ORDER")
	setList(&cfg.Providers.Structured.Order, "LLM_STRUCTURED_ORDER")

	setString(&cfg.Archive.Endpoint, "ARCHIVE_S3_ENDPOINT")
	setString(&cfg.Archive.Bucket, "ARCHIVE_S3_BUCKET")
	setString(&cfg.Archive.Region, "ARCHIVE_S3_REGION")
	setString(&cfg.Archive.AccessKey, "ARCHIVE_S3_ACCESS_KEY")
	setString(&cfg.Archive.SecretKey, "ARCHIVE_S3_SECRET_KEY")

	if err := setInt(&cfg.Workers, "WORKERS"); err != nil {
		return err
	}
	if err := setBool(&cfg.Archive.UseSSL, "ARCHIVE_S3_USE_SSL"); err != nil {
		return err
	}
	for env, dst := range map[string]*time.Duration{
		"LISTEN_BASE":     &cfg.Call.ListenBase,
		"LISTEN_PER_CHAR": &cfg.Call.ListenPerChar,
		"LISTEN_MIN":      &cfg.Call.ListenMin,
		"LISTEN_MAX":      &cfg.Call.ListenMax,
		"BACKEND_TIMEOUT": &cfg.Backend.Timeout,
	} {
		if err := setDuration(dst, env); err != nil {
			return err
		}
	}
	if cfg.Call.ListenMax <= 0 {
		return fmt.Errorf("config: listen_max must be positive, got %s", cfg.Call.ListenMax)
	}
	if cfg.Call.ListenPerChar < 0 || cfg.Call.ListenBase < 0 || cfg.Call.ListenMin < 0 {
		return fmt.Errorf("config: listen timings must not be negative")
	}
	if cfg.Call.ListenMin > cfg.Call.ListenMax {
		return fmt.Errorf("config: listen_min %s exceeds listen_max %s", cfg.Call.ListenMin, cfg.Call.ListenMax)
	}
	return nil
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, env string) {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func setInt(dst *int, env string) error {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", env, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, env string) error {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", env, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, env string) error {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", env, err)
	}
	*dst = d
	return nil
}

func splitAddr(addr string) (string, string) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
