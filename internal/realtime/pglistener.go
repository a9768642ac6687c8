package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const defaultRetryDelay = 5 * time.Second

// PGListener relays Postgres NOTIFY payloads written by the change trigger
// into a Hub. Payloads have the ChangeEvent JSON shape.
type PGListener struct {
	pool       *pgxpool.Pool
	channel    string
	hub        *Hub
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewPGListener(pool *pgxpool.Pool, channel string, hub *Hub, logger *zap.Logger) *PGListener {
	return &PGListener{
		pool:       pool,
		channel:    channel,
		hub:        hub,
		retryDelay: defaultRetryDelay,
		logger:     logger,
	}
}

// Run listens until ctx is cancelled, reconnecting after failures.
func (l *PGListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("change feed listener stopped, reconnecting",
			zap.String("channel", l.channel),
			zap.Duration("retry_in", l.retryDelay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer func() {
		// leave no LISTEN behind on a connection going back to the pool
		if !conn.Conn().IsClosed() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := conn.Exec(cleanupCtx, "UNLISTEN *"); err != nil {
				conn.Conn().Close(cleanupCtx)
			}
			cancel()
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info("listening for database changes", zap.String("channel", l.channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := decodeNotification(n.Payload)
		if err != nil {
			l.logger.Warn("ignoring malformed change notification", zap.Error(err))
			continue
		}
		l.hub.Publish(ev)
	}
}

var errUnknownChange = errors.New("unknown change")

func decodeNotification(payload string) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode payload: %w", err)
	}
	switch ev.Type {
	case domain.ChangeInsert, domain.ChangeUpdate:
	default:
		return ChangeEvent{}, fmt.Errorf("%w: operation %q", errUnknownChange, ev.Type)
	}
	switch ev.Table {
	case domain.TableMessages, domain.TableNotifications:
	default:
		return ChangeEvent{}, fmt.Errorf("%w: table %q", errUnknownChange, ev.Table)
	}
	if len(ev.New) == 0 || string(ev.New) == "null" {
		return ChangeEvent{}, fmt.Errorf("%w: empty record", errUnknownChange)
	}
	return ev, nil
}
