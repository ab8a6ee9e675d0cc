package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// Listener receives vectorizer ids published on NotifyChannel by capture
// triggers and cron jobs. It holds its own connection outside the pool.
type Listener struct {
	url     string
	logger  *slog.Logger
	backoff time.Duration
}

// NewListener creates a listener for the PostgreSQL database at url.
func NewListener(url string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{url: url, logger: logger, backoff: 5 * time.Second}
}

// Listen delivers notified vectorizer ids on out until ctx is cancelled,
// reconnecting after connection failures. Malformed payloads are dropped.
func (l *Listener) Listen(ctx context.Context, out chan<- int64) error {
	for {
		err := l.listenOnce(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("notification listener disconnected",
			slog.String("channel", NotifyChannel),
			slog.Any("error", err),
			slog.Duration("retry_in", l.backoff),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context, out chan<- int64) error {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for work notifications", slog.String("channel", NotifyChannel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(n.Payload, 10, 64)
		if err != nil {
			l.logger.Warn("ignoring malformed notification", slog.String("payload", n.Payload))
			continue
		}
		select {
		case out <- id:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
