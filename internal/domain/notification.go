package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies notifications for the UI.
type NotificationType string

const (
	NotificationNewMessage     NotificationType = "new_message"
	NotificationDocumentMatch  NotificationType = "document_match"
	NotificationProximityAlert NotificationType = "proximity_alert"
	NotificationPointsAwarded  NotificationType = "points_awarded"
	NotificationSystem         NotificationType = "system"
)

type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	IsRead    bool             `json:"is_read"`
	ActionURL *string          `json:"action_url,omitempty"`
	Metadata  Map              `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
}

// Map alias for JSONB data
type Map map[string]interface{}

// CreateNotificationParams holds parameters for notification creation
type CreateNotificationParams struct {
	UserID    uuid.UUID
	Type      NotificationType
	Title     string
	Message   string
	ActionURL *string
	Metadata  Map
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, params CreateNotificationParams) (*Notification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)
	GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error)
	CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID) (*Notification, error)
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) ([]*Notification, error)

	SaveDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error
	GetDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error)
	DeleteDeviceToken(ctx context.Context, token string) error
}
