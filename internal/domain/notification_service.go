package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const pushTimeout = 10 * time.Second

type NotificationService struct {
	repo      NotificationRepository
	push      PushSender
	publisher ChangePublisher
	logger    *zap.Logger
}

// NewNotificationService creates the service. push and publisher may be nil.
func NewNotificationService(repo NotificationRepository, push PushSender, publisher ChangePublisher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		repo:      repo,
		push:      push,
		publisher: publisher,
		logger:    logger,
	}
}

// NotificationPage is a page of notifications plus the total unread count.
type NotificationPage struct {
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int             `json:"unread_count"`
}

func (s *NotificationService) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) (*NotificationPage, error) {
	if limit <= 0 {
		limit = 20
	}
	notifs, err := s.repo.GetNotifications(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := s.repo.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread notifications: %w", err)
	}
	return &NotificationPage{Notifications: notifs, UnreadCount: unread}, nil
}

// MarkRead flags one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, fmt.Errorf("notification %s: %w", notificationID, ErrForbidden)
	}
	if n.IsRead {
		return n, nil
	}

	updated, err := s.repo.MarkNotificationRead(ctx, notificationID)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	s.publish(ChangeUpdate, updated)
	return updated, nil
}

// MarkAllRead flags every unread notification of the user and returns how
// many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	updated, err := s.repo.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	for _, n := range updated {
		s.publish(ChangeUpdate, n)
	}
	return len(updated), nil
}

// SendNotification stores a notification and pushes it to the user's devices.
// Push delivery is best effort and never fails the call.
func (s *NotificationService) SendNotification(ctx context.Context, params CreateNotificationParams) (*Notification, error) {
	if params.Metadata == nil {
		params.Metadata = Map{}
	}
	n, err := s.repo.CreateNotification(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	s.publish(ChangeInsert, n)

	if s.push != nil {
		go s.pushToDevices(n)
	}
	return n, nil
}

// RegisterDevice stores a push token for the user.
func (s *NotificationService) RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error {
	if token == "" {
		return fmt.Errorf("%w: empty device token", ErrInvalidInput)
	}
	return s.repo.SaveDeviceToken(ctx, userID, token, platform)
}

func (s *NotificationService) pushToDevices(n *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	tokens, err := s.repo.GetDeviceTokens(ctx, n.UserID)
	if err != nil {
		s.logger.Warn("failed to get device tokens", zap.String("user_id", n.UserID.String()), zap.Error(err))
		return
	}

	data := map[string]string{
		"notification_id": n.ID.String(),
		"type":            string(n.Type),
	}
	if n.ActionURL != nil {
		data["action_url"] = *n.ActionURL
	}
	for k, v := range n.Metadata {
		if _, taken := data[k]; !taken {
			data[k] = fmt.Sprintf("%v", v)
		}
	}

	for _, token := range tokens {
		if token == "" {
			continue
		}
		err := s.push.Send(ctx, token, n.Title, n.Message, data)
		if errors.Is(err, ErrPushTokenInvalid) {
			if delErr := s.repo.DeleteDeviceToken(ctx, token); delErr != nil {
				s.logger.Warn("failed to drop stale device token", zap.Error(delErr))
			}
			continue
		}
		if err != nil {
			s.logger.Warn("push delivery failed", zap.String("user_id", n.UserID.String()), zap.Error(err))
		}
	}
}

func (s *NotificationService) publish(op ChangeOp, n *Notification) {
	if s.publisher != nil && n != nil {
		s.publisher.PublishChange(TableNotifications, op, n)
	}
}
