package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetNotifications(t *testing.T) {
	user := uuid.New()
	repo := &mockNotificationRepo{}
	repo.On("GetNotifications", mock.Anything, user, 20, 0).Return([]*Notification{{ID: uuid.New()}}, nil)
	repo.On("CountUnreadNotifications", mock.Anything, user).Return(3, nil)

	page, err := NewNotificationService(repo, nil, nil, zap.NewNop()).GetNotifications(context.Background(), user, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Notifications, 1)
	assert.Equal(t, 3, page.UnreadCount)
}

func TestMarkReadChecksOwnership(t *testing.T) {
	owner, other := uuid.New(), uuid.New()
	id := uuid.New()

	repo := &mockNotificationRepo{}
	repo.On("GetNotification", mock.Anything, id).Return(&Notification{ID: id, UserID: owner}, nil)

	_, err := NewNotificationService(repo, nil, nil, zap.NewNop()).MarkRead(context.Background(), other, id)
	assert.ErrorIs(t, err, ErrForbidden)
	repo.AssertNotCalled(t, "MarkNotificationRead", mock.Anything, mock.Anything)
}

func TestMarkReadPublishesUpdate(t *testing.T) {
	owner := uuid.New()
	id := uuid.New()
	updated := &Notification{ID: id, UserID: owner, IsRead: true}

	repo := &mockNotificationRepo{}
	repo.On("GetNotification", mock.Anything, id).Return(&Notification{ID: id, UserID: owner}, nil)
	repo.On("MarkNotificationRead", mock.Anything, id).Return(updated, nil)

	pub := &recordingPublisher{}
	got, err := NewNotificationService(repo, nil, pub, zap.NewNop()).MarkRead(context.Background(), owner, id)
	require.NoError(t, err)
	assert.Same(t, updated, got)

	changes := pub.all()
	require.Len(t, changes, 1)
	assert.Equal(t, TableNotifications, changes[0].table)
	assert.Equal(t, ChangeUpdate, changes[0].op)
}

func TestMarkReadAlreadyRead(t *testing.T) {
	owner := uuid.New()
	id := uuid.New()
	n := &Notification{ID: id, UserID: owner, IsRead: true}

	repo := &mockNotificationRepo{}
	repo.On("GetNotification", mock.Anything, id).Return(n, nil)

	got, err := NewNotificationService(repo, nil, nil, zap.NewNop()).MarkRead(context.Background(), owner, id)
	require.NoError(t, err)
	assert.Same(t, n, got)
}

func TestMarkAllRead(t *testing.T) {
	user := uuid.New()
	repo := &mockNotificationRepo{}
	repo.On("MarkAllNotificationsRead", mock.Anything, user).Return([]*Notification{{ID: uuid.New()}, {ID: uuid.New()}}, nil)

	pub := &recordingPublisher{}
	n, err := NewNotificationService(repo, nil, pub, zap.NewNop()).MarkAllRead(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.all(), 2)
}

func TestSendNotificationPushesAndDropsStaleTokens(t *testing.T) {
	user := uuid.New()
	n := &Notification{ID: uuid.New(), UserID: user, Type: NotificationSystem, Title: "Hello", Message: "World", Metadata: Map{"k": 1}}

	repo := &mockNotificationRepo{}
	repo.On("CreateNotification", mock.Anything, mock.MatchedBy(func(p CreateNotificationParams) bool {
		return p.Metadata != nil
	})).Return(n, nil)
	repo.On("GetDeviceTokens", mock.Anything, user).Return([]string{"good", "", "stale"}, nil)

	dropped := make(chan string, 1)
	repo.On("DeleteDeviceToken", mock.Anything, "stale").
		Run(func(args mock.Arguments) { dropped <- args.String(1) }).
		Return(nil)

	var mu sync.Mutex
	var sent []string
	push := pushFunc(func(_ context.Context, token, title, body string, data map[string]string) error {
		mu.Lock()
		sent = append(sent, token)
		mu.Unlock()
		assert.Equal(t, "Hello", title)
		assert.Equal(t, n.ID.String(), data["notification_id"])
		assert.Equal(t, "1", data["k"])
		if token == "stale" {
			return ErrPushTokenInvalid
		}
		return nil
	})

	pub := &recordingPublisher{}
	got, err := NewNotificationService(repo, push, pub, zap.NewNop()).SendNotification(context.Background(), CreateNotificationParams{
		UserID: user,
		Type:   NotificationSystem,
		Title:  "Hello",
	})
	require.NoError(t, err)
	assert.Same(t, n, got)
	require.Len(t, pub.all(), 1)
	assert.Equal(t, ChangeInsert, pub.all()[0].op)

	select {
	case token := <-dropped:
		assert.Equal(t, "stale", token)
	case <-time.After(2 * time.Second):
		t.Fatal("stale token was not removed")
	}
	mu.Lock()
	assert.Equal(t, []string{"good", "stale"}, sent)
	mu.Unlock()
}

func TestSendNotificationStoreFailure(t *testing.T) {
	repo := &mockNotificationRepo{}
	repo.On("CreateNotification", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	pub := &recordingPublisher{}
	_, err := NewNotificationService(repo, nil, pub, zap.NewNop()).SendNotification(context.Background(), CreateNotificationParams{UserID: uuid.New()})
	assert.Error(t, err)
	assert.Empty(t, pub.all())
}

func TestRegisterDevice(t *testing.T) {
	user := uuid.New()
	repo := &mockNotificationRepo{}
	repo.On("SaveDeviceToken", mock.Anything, user, "tok", "android").Return(nil)

	s := NewNotificationService(repo, nil, nil, zap.NewNop())
	require.NoError(t, s.RegisterDevice(context.Background(), user, "tok", "android"))
	assert.ErrorIs(t, s.RegisterDevice(context.Background(), user, "", "ios"), ErrInvalidInput)
}
