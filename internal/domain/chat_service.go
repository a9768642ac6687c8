package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxMessageLength       = 2000
	notificationPreviewLen = 120
	notifyTimeout          = 10 * time.Second
)

type ChatService struct {
	repo      MessageRepository
	profiles  *ProfileResolver
	notifier  *NotificationService
	publisher ChangePublisher
	logger    *zap.Logger
}

// NewChatService creates the chat service. notifier and publisher may be nil.
func NewChatService(repo MessageRepository, profiles *ProfileResolver, notifier *NotificationService, publisher ChangePublisher, logger *zap.Logger) *ChatService {
	return &ChatService{
		repo:      repo,
		profiles:  profiles,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

// LoadThreads returns the user's conversations, newest first, with the other
// participant's display profile attached.
func (s *ChatService) LoadThreads(ctx context.Context, userID uuid.UUID) ([]*Thread, error) {
	messages, err := s.repo.ListMessagesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load threads: %w", err)
	}

	threads := AggregateThreads(messages, userID)
	if len(threads) == 0 {
		return threads, nil
	}

	ids := make([]uuid.UUID, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.OtherParticipantID)
	}
	profiles := s.profiles.Resolve(ctx, ids)
	for _, t := range threads {
		p := profiles[t.OtherParticipantID]
		t.OtherParticipant = &p
	}
	return threads, nil
}

// SendMessageParams holds the user supplied part of a new message.
type SendMessageParams struct {
	ReceiverID uuid.UUID
	DocumentID *uuid.UUID
	Text       string
	Location   *Location
}

func (p SendMessageParams) validate(senderID uuid.UUID) error {
	text := strings.TrimSpace(p.Text)
	switch {
	case text == "":
		return fmt.Errorf("%w: message text is empty", ErrInvalidInput)
	case utf8.RuneCountInString(text) > MaxMessageLength:
		return fmt.Errorf("%w: message longer than %d characters", ErrInvalidInput, MaxMessageLength)
	case p.ReceiverID == uuid.Nil:
		return fmt.Errorf("%w: receiver is required", ErrInvalidInput)
	case p.ReceiverID == senderID:
		return fmt.Errorf("%w: cannot message yourself", ErrInvalidInput)
	case p.Location != nil && !p.Location.Valid():
		return fmt.Errorf("%w: location out of range", ErrInvalidInput)
	}
	return nil
}

// SendMessage stores a message and notifies the receiver in the background.
func (s *ChatService) SendMessage(ctx context.Context, senderID uuid.UUID, params SendMessageParams) (*Message, error) {
	if err := params.validate(senderID); err != nil {
		return nil, err
	}

	msg, err := s.repo.CreateMessage(ctx, CreateMessageParams{
		SenderID:   senderID,
		ReceiverID: params.ReceiverID,
		DocumentID: params.DocumentID,
		Text:       strings.TrimSpace(params.Text),
		Location:   params.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	if s.publisher != nil {
		s.publisher.PublishChange(TableMessages, ChangeInsert, msg)
	}
	if s.notifier != nil {
		go s.notifyReceiver(msg)
	}
	return msg, nil
}

// ThreadMessages returns a page of a thread's messages, newest first.
func (s *ChatService) ThreadMessages(ctx context.Context, userID uuid.UUID, key ThreadKey, limit, offset int) ([]*Message, error) {
	if !key.IsDocument() && !key.Includes(userID) {
		return nil, fmt.Errorf("thread %s: %w", key, ErrForbidden)
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListThreadMessages(ctx, userID, key, limit, offset)
}

// MarkThreadRead marks every unread message addressed to the user in the
// thread as read and returns how many changed.
func (s *ChatService) MarkThreadRead(ctx context.Context, userID uuid.UUID, key ThreadKey) (int, error) {
	if !key.IsDocument() && !key.Includes(userID) {
		return 0, fmt.Errorf("thread %s: %w", key, ErrForbidden)
	}
	updated, err := s.repo.MarkThreadRead(ctx, userID, key)
	if err != nil {
		return 0, fmt.Errorf("mark thread read: %w", err)
	}
	if s.publisher != nil {
		for _, m := range updated {
			s.publisher.PublishChange(TableMessages, ChangeUpdate, m)
		}
	}
	return len(updated), nil
}

func (s *ChatService) notifyReceiver(msg *Message) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	sender := s.profiles.ResolveOne(ctx, msg.SenderID)
	key := ThreadKeyFor(msg, msg.ReceiverID).String()
	actionURL := "/messages?thread=" + key

	_, err := s.notifier.SendNotification(ctx, CreateNotificationParams{
		UserID:    msg.ReceiverID,
		Type:      NotificationNewMessage,
		Title:     sender.DisplayName,
		Message:   preview(msg.Text, notificationPreviewLen),
		ActionURL: &actionURL,
		Metadata: Map{
			"message_id": msg.ID.String(),
			"sender_id":  msg.SenderID.String(),
			"thread_key": key,
		},
	})
	if err != nil {
		s.logger.Warn("failed to notify message receiver",
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
	}
}

func preview(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
