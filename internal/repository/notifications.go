package repository

import (
	"context"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const notificationColumns = `id, user_id, type, title, message, is_read, action_url, metadata, created_at`

// CreateNotification inserts a notification
func (r *PostgresRepository) CreateNotification(ctx context.Context, params domain.CreateNotificationParams) (*domain.Notification, error) {
	metadata := params.Metadata
	if metadata == nil {
		metadata = domain.Map{}
	}

	query := `
		INSERT INTO notifications (user_id, type, title, message, action_url, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + notificationColumns

	row := r.db.QueryRow(ctx, query,
		params.UserID,
		params.Type,
		params.Title,
		params.Message,
		params.ActionURL,
		metadata,
	)
	return scanNotification(row)
}

// GetNotification retrieves a notification by ID
func (r *PostgresRepository) GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	return scanNotification(r.db.QueryRow(ctx, query, id))
}

// GetNotifications returns a user's notifications, newest first
func (r *PostgresRepository) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// CountUnreadNotifications counts a user's unread notifications
func (r *PostgresRepository) CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	).Scan(&count)
	return count, err
}

// MarkNotificationRead flags one notification as read
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `UPDATE notifications SET is_read = TRUE WHERE id = $1 RETURNING ` + notificationColumns
	return scanNotification(r.db.QueryRow(ctx, query, id))
}

// MarkAllNotificationsRead flags every unread notification and returns the changed rows
func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) ([]*domain.Notification, error) {
	query := `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND is_read = FALSE
		RETURNING ` + notificationColumns
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// SaveDeviceToken registers a push token, moving it to userID if another user had it
func (r *PostgresRepository) SaveDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error {
	query := `
		INSERT INTO device_tokens (token, user_id, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, token, userID, platform)
	return err
}

// GetDeviceTokens lists a user's push tokens
func (r *PostgresRepository) GetDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT token FROM device_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DeleteDeviceToken removes a push token
func (r *PostgresRepository) DeleteDeviceToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1`, token)
	return err
}

func collectNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	defer rows.Close()

	var notifs []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifs, nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.IsRead,
		&n.ActionURL,
		&n.Metadata,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}
