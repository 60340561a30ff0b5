package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"checkin-assistant/internal/archive"
	"checkin-assistant/internal/config"
	"checkin-assistant/internal/db"
	"checkin-assistant/pkg"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print emergency escalations as they are announced",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var media *archive.S3Archive
	if cfg.Archive.Endpoint != "" {
		if media, err = newArchive(cfg.Archive); err != nil {
			return err
		}
	}

	n := db.NewNotifier(nil, cfg.NotifyChannel)
	events, err := n.Listen(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
	}
	log.Info("watching emergencies", "channel", cfg.NotifyChannel)

	out := cmd.OutOrStdout()
	for payload := range events {
		var ev struct {
			ID string `json:"id"`
			pkg.Escalation
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			fmt.Fprintln(out, payload)
			continue
		}
		switch ev.Kind {
		case pkg.EscalationLocation:
			fmt.Fprintf(out, "[%s] location from %s: %.5f,%.5f (%s)\n", ev.ID, ev.ConversationKey, ev.Latitude, ev.Longitude, ev.TriageLevel)
		default:
			fmt.Fprintf(out, "[%s] %s triage for %s: %s\n", ev.ID, ev.TriageLevel, ev.ConversationKey, ev.Assessment)
		}
		if ev.MediaObject != "" {
			link := ev.MediaObject
			if media != nil {
				if u, err := media.PresignedURL(ctx, ev.MediaObject, 24*time.Hour); err == nil {
					link = u
				} else {
					log.Warn("presign media", "object", ev.MediaObject, "err", err)
				}
			}
			fmt.Fprintf(out, "    media: %s\n", link)
		}
	}
	return nil
}
