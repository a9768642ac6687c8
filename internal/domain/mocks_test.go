package domain

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type mockMessageRepo struct{ mock.Mock }

func (m *mockMessageRepo) CreateMessage(ctx context.Context, params CreateMessageParams) (*Message, error) {
	args := m.Called(ctx, params)
	msg, _ := args.Get(0).(*Message)
	return msg, args.Error(1)
}

func (m *mockMessageRepo) ListMessagesForUser(ctx context.Context, userID uuid.UUID) ([]*Message, error) {
	args := m.Called(ctx, userID)
	msgs, _ := args.Get(0).([]*Message)
	return msgs, args.Error(1)
}

func (m *mockMessageRepo) ListThreadMessages(ctx context.Context, userID uuid.UUID, key ThreadKey, limit, offset int) ([]*Message, error) {
	args := m.Called(ctx, userID, key, limit, offset)
	msgs, _ := args.Get(0).([]*Message)
	return msgs, args.Error(1)
}

func (m *mockMessageRepo) MarkThreadRead(ctx context.Context, userID uuid.UUID, key ThreadKey) ([]*Message, error) {
	args := m.Called(ctx, userID, key)
	msgs, _ := args.Get(0).([]*Message)
	return msgs, args.Error(1)
}

type mockProfileRepo struct{ mock.Mock }

func (m *mockProfileRepo) GetProfilesByIDs(ctx context.Context, ids []uuid.UUID) ([]*UserProfile, error) {
	args := m.Called(ctx, ids)
	profiles, _ := args.Get(0).([]*UserProfile)
	return profiles, args.Error(1)
}

func (m *mockProfileRepo) GetProfile(ctx context.Context, id uuid.UUID) (*UserProfile, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*UserProfile)
	return p, args.Error(1)
}

func (m *mockProfileRepo) AddPoints(ctx context.Context, userID uuid.UUID, delta int) (int, error) {
	args := m.Called(ctx, userID, delta)
	return args.Int(0), args.Error(1)
}

type mockNotificationRepo struct{ mock.Mock }

func (m *mockNotificationRepo) CreateNotification(ctx context.Context, params CreateNotificationParams) (*Notification, error) {
	args := m.Called(ctx, params)
	n, _ := args.Get(0).(*Notification)
	return n, args.Error(1)
}

func (m *mockNotificationRepo) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	args := m.Called(ctx, id)
	n, _ := args.Get(0).(*Notification)
	return n, args.Error(1)
}

func (m *mockNotificationRepo) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	args := m.Called(ctx, userID, limit, offset)
	ns, _ := args.Get(0).([]*Notification)
	return ns, args.Error(1)
}

func (m *mockNotificationRepo) CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationRepo) MarkNotificationRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	args := m.Called(ctx, id)
	n, _ := args.Get(0).(*Notification)
	return n, args.Error(1)
}

func (m *mockNotificationRepo) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) ([]*Notification, error) {
	args := m.Called(ctx, userID)
	ns, _ := args.Get(0).([]*Notification)
	return ns, args.Error(1)
}

func (m *mockNotificationRepo) SaveDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error {
	return m.Called(ctx, userID, token, platform).Error(0)
}

func (m *mockNotificationRepo) GetDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, userID)
	tokens, _ := args.Get(0).([]string)
	return tokens, args.Error(1)
}

func (m *mockNotificationRepo) DeleteDeviceToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

type mockDocumentRepo struct{ mock.Mock }

func (m *mockDocumentRepo) CreateDocument(ctx context.Context, params CreateDocumentParams) (*Document, error) {
	args := m.Called(ctx, params)
	d, _ := args.Get(0).(*Document)
	return d, args.Error(1)
}

func (m *mockDocumentRepo) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	args := m.Called(ctx, id)
	d, _ := args.Get(0).(*Document)
	return d, args.Error(1)
}

func (m *mockDocumentRepo) ListOpenDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	args := m.Called(ctx, filter)
	ds, _ := args.Get(0).([]*Document)
	return ds, args.Error(1)
}

func (m *mockDocumentRepo) MarkDocumentReturned(ctx context.Context, id uuid.UUID, returnedBy *uuid.UUID) (*Document, error) {
	args := m.Called(ctx, id, returnedBy)
	d, _ := args.Get(0).(*Document)
	return d, args.Error(1)
}

func (m *mockDocumentRepo) SetDocumentImage(ctx context.Context, id uuid.UUID, imageURL string) (*Document, error) {
	args := m.Called(ctx, id, imageURL)
	d, _ := args.Get(0).(*Document)
	return d, args.Error(1)
}

type mockStorage struct{ mock.Mock }

func (m *mockStorage) SaveFile(ctx context.Context, key string, file io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, file, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) DeleteFile(ctx context.Context, fileURL string) error {
	return m.Called(ctx, fileURL).Error(0)
}

// recordingPublisher collects published changes.
type recordingPublisher struct {
	mu      sync.Mutex
	changes []publishedChange
}

type publishedChange struct {
	table  string
	op     ChangeOp
	record any
}

func (p *recordingPublisher) PublishChange(table string, op ChangeOp, record any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, publishedChange{table: table, op: op, record: record})
}

func (p *recordingPublisher) all() []publishedChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedChange(nil), p.changes...)
}

// pushFunc adapts a function to PushSender.
type pushFunc func(ctx context.Context, token, title, body string, data map[string]string) error

func (f pushFunc) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	return f(ctx, token, title, body, data)
}
