package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"checkin-assistant/internal/backend"
	"checkin-assistant/internal/config"
	"checkin-assistant/internal/core"
	"checkin-assistant/internal/db"
	httpserver "checkin-assistant/internal/http"
	"checkin-assistant/internal/session"
	"checkin-assistant/internal/transport"
	"checkin-assistant/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trigger endpoint, chat webhook and outbox relay",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := worker.NewPool(cfg.Workers)
	ch, err := buildChains(cfg, pool, log)
	if err != nil {
		return err
	}
	for name, names := range map[string][]string{
		"stt": ch.STT.Names(), "tts": ch.TTS.Names(), "llm-chat": ch.Chat.Names(), "llm-structured": ch.Structured.Names(),
	} {
		log.Info("provider chain", "capability", name, "order", names)
	}

	records, err := backend.New(cfg.Backend.BaseURL, cfg.Backend.APIVersion, cfg.Backend.Token, cfg.Backend.Timeout, cfg.Backend.CacheSize)
	if err != nil {
		return err
	}
	records.Log = log

	if cfg.Telegram.BotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN must be set")
	}
	tg := transport.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.Timeout)
	tg.Log = log
	if cfg.Telegram.APIURL != "" {
		tg.WithBaseURL(cfg.Telegram.APIURL)
	}

	store := session.NewMemoryStore()
	dispatcher := core.NewDispatcher(ctx, log)
	summarizer := core.NewSummarizer(ch.Structured, log)
	engine := &core.Engine{
		Store:   store,
		Chat:    tg,
		Backend: records,
		Questions: &core.QuestionGenerator{
			LLM:  ch.Structured,
			Chat: ch.Chat,
			Log:  log,
		},
		Summarizer: summarizer,
		TTS:        ch.TTS,
		Serial:     dispatcher,
		Log:        log,
	}
	triage := &core.Triage{
		Store:   store,
		Chat:    tg,
		Backend: records,
		LLM:     ch.Structured,
		Log:     log,
	}

	if calls := transport.NewCallService(cfg.CallService.URL, cfg.CallService.Timeout); calls.Configured() {
		engine.Calls = &core.CallRunner{
			Store:  store,
			Chat:   tg,
			Voice:  calls,
			STT:    ch.STT,
			TTS:    ch.TTS,
			Step:   engine.AnswerAt,
			Timing: cfg.Call,
			Log:    log,
		}
	} else {
		log.Warn("CALL_SERVICE_URL not set; call-mode check-ins are delivered in chat")
	}

	if cfg.Archive.Endpoint != "" {
		media, err := newArchive(cfg.Archive)
		if err != nil {
			return err
		}
		triage.Archive = media
	}

	var repo *db.Repository
	if cfg.DatabaseURL != "" {
		conn, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		repo = db.NewRepository(conn)
		tg.Directory = repo
		engine.Outbox = repo
		triage.Alerts = &db.Escalations{Repo: repo, Notifier: db.NewNotifier(conn, cfg.NotifyChannel), Log: log}

		relay := &db.Relay{
			Store: repo,
			Deliver: func(ctx context.Context, it db.OutboxItem) error {
				return core.Replay(ctx, records, it.Kind, it.Target, it.Payload)
			},
			Interval:    cfg.Outbox.Interval,
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
			Log:         log,
		}
		go relay.Run(ctx)
	} else {
		log.Warn("DATABASE_URL not set; failed backend writes are logged and dropped")
	}

	router := &core.Router{
		Store:  store,
		Chat:   tg,
		Engine: engine,
		Triage: triage,
		STT:    ch.STT,
		Log:    log,
	}
	handler := httpserver.NewServer(engine, router, dispatcher, tg, cfg.Telegram.WebhookSecret, log)
	if repo != nil {
		handler.Outbox = repo
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	dispatcher.Wait()
	if engine.Calls != nil {
		engine.Calls.Wait()
	}
	return nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return conn, nil
}
