package api

import (
	"context"
	"io"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type mockChatService struct{ mock.Mock }

func (m *mockChatService) LoadThreads(ctx context.Context, userID uuid.UUID) ([]*domain.Thread, error) {
	args := m.Called(ctx, userID)
	threads, _ := args.Get(0).([]*domain.Thread)
	return threads, args.Error(1)
}

func (m *mockChatService) ThreadMessages(ctx context.Context, userID uuid.UUID, key domain.ThreadKey, limit, offset int) ([]*domain.Message, error) {
	args := m.Called(ctx, userID, key, limit, offset)
	msgs, _ := args.Get(0).([]*domain.Message)
	return msgs, args.Error(1)
}

func (m *mockChatService) MarkThreadRead(ctx context.Context, userID uuid.UUID, key domain.ThreadKey) (int, error) {
	args := m.Called(ctx, userID, key)
	return args.Int(0), args.Error(1)
}

func (m *mockChatService) SendMessage(ctx context.Context, senderID uuid.UUID, params domain.SendMessageParams) (*domain.Message, error) {
	args := m.Called(ctx, senderID, params)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

type mockNotificationService struct{ mock.Mock }

func (m *mockNotificationService) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.NotificationPage, error) {
	args := m.Called(ctx, userID, limit, offset)
	page, _ := args.Get(0).(*domain.NotificationPage)
	return page, args.Error(1)
}

func (m *mockNotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (*domain.Notification, error) {
	args := m.Called(ctx, userID, notificationID)
	n, _ := args.Get(0).(*domain.Notification)
	return n, args.Error(1)
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationService) RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error {
	return m.Called(ctx, userID, token, platform).Error(0)
}

type mockDocumentService struct{ mock.Mock }

func (m *mockDocumentService) Report(ctx context.Context, params domain.CreateDocumentParams) (*domain.ReportResult, error) {
	args := m.Called(ctx, params)
	res, _ := args.Get(0).(*domain.ReportResult)
	return res, args.Error(1)
}

func (m *mockDocumentService) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	args := m.Called(ctx, id)
	doc, _ := args.Get(0).(*domain.Document)
	return doc, args.Error(1)
}

func (m *mockDocumentService) Nearby(ctx context.Context, q domain.NearbyQuery) ([]*domain.NearbyDocument, error) {
	args := m.Called(ctx, q)
	docs, _ := args.Get(0).([]*domain.NearbyDocument)
	return docs, args.Error(1)
}

func (m *mockDocumentService) MarkReturned(ctx context.Context, userID, documentID uuid.UUID, finderDocumentID *uuid.UUID) (*domain.Document, error) {
	args := m.Called(ctx, userID, documentID, finderDocumentID)
	doc, _ := args.Get(0).(*domain.Document)
	return doc, args.Error(1)
}

func (m *mockDocumentService) AttachImage(ctx context.Context, userID, documentID uuid.UUID, file io.Reader, filename, contentType string) (*domain.Document, error) {
	args := m.Called(ctx, userID, documentID, file, filename, contentType)
	doc, _ := args.Get(0).(*domain.Document)
	return doc, args.Error(1)
}

// fallbackResolver resolves every ID to its fallback name unless named.
type fallbackResolver map[uuid.UUID]string

func (r fallbackResolver) Resolve(_ context.Context, ids []uuid.UUID) map[uuid.UUID]domain.DisplayProfile {
	out := make(map[uuid.UUID]domain.DisplayProfile, len(ids))
	for _, id := range ids {
		out[id] = r.ResolveOne(context.Background(), id)
	}
	return out
}

func (r fallbackResolver) ResolveOne(_ context.Context, id uuid.UUID) domain.DisplayProfile {
	if name, ok := r[id]; ok {
		return domain.DisplayProfile{DisplayName: name}
	}
	return domain.DisplayProfile{DisplayName: domain.FallbackDisplayName(id)}
}

type mockProfileReader struct{ mock.Mock }

func (m *mockProfileReader) GetProfile(ctx context.Context, id uuid.UUID) (*domain.UserProfile, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*domain.UserProfile)
	return p, args.Error(1)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
