package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  Emergency
// escalations are announced on Channel so an on-call dashboard can react.
type Notifier struct {
	DB      *sql.DB
	Channel string
}

// NewNotifier constructs a new Notifier.  The channel should match the
// POSTGRES_NOTIFY_CHANNEL environment variable.
func NewNotifier(db *sql.DB, channel string) *Notifier {
	return &Notifier{DB: db, Channel: channel}
}

// Notify sends payload to the channel.
func (n *Notifier) Notify(ctx context.Context, payload string) error {
	channel := pq.QuoteIdentifier(n.Channel)
	_, err := n.DB.ExecContext(ctx, fmt.Sprintf("NOTIFY %s, $1", channel), payload)
	return err
}

// Listen opens a dedicated listener connection on dsn and yields payloads
// until ctx is cancelled.
func (n *Notifier) Listen(ctx context.Context, dsn string, log *slog.Logger) (<-chan string, error) {
	if log == nil {
		log = slog.Default()
	}
	l := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("notify listener event", "event", ev, "err", err)
		}
	})
	if err := l.Listen(n.Channel); err != nil {
		_ = l.Close()
		return nil, err
	}
	ch := make(chan string)
	go func() {
		defer func() {
			_ = l.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-l.Notify:
				// nil after a reconnect
				if msg == nil {
					continue
				}
				select {
				case ch <- msg.Extra:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				if err := l.Ping(); err != nil {
					log.Warn("notify listener ping", "err", err)
				}
			}
		}
	}()
	return ch, nil
}
