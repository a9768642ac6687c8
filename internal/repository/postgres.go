package repository

import (
	"context"
	"errors"
	"time"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresRepository implements the domain repositories using PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var (
	_ domain.MessageRepository      = (*PostgresRepository)(nil)
	_ domain.NotificationRepository = (*PostgresRepository)(nil)
	_ domain.ProfileRepository      = (*PostgresRepository)(nil)
	_ domain.DocumentRepository     = (*PostgresRepository)(nil)
)

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// notFound maps pgx.ErrNoRows to domain.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// uuidStrings converts ids for a $n::uuid[] parameter
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// CleanupStaleRows removes read notifications older than retention
func (r *PostgresRepository) CleanupStaleRows(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications WHERE is_read = TRUE AND created_at < $1`,
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// StartCleanupWorker starts a background worker that prunes old read notifications
func (r *PostgresRepository) StartCleanupWorker(ctx context.Context, interval, retention time.Duration, logger *zap.Logger) {
	if interval <= 0 || retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.CleanupStaleRows(ctx, retention)
				if err != nil {
					logger.Warn("Notification cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("Pruned read notifications", zap.Int64("count", n))
				}
			}
		}
	}()
}
