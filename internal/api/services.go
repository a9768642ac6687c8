package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/findmydocs/backend/pkg/response"
	"github.com/findmydocs/backend/pkg/validator"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatService is the part of domain.ChatService the handlers use.
type ChatService interface {
	LoadThreads(ctx context.Context, userID uuid.UUID) ([]*domain.Thread, error)
	ThreadMessages(ctx context.Context, userID uuid.UUID, key domain.ThreadKey, limit, offset int) ([]*domain.Message, error)
	MarkThreadRead(ctx context.Context, userID uuid.UUID, key domain.ThreadKey) (int, error)
	SendMessage(ctx context.Context, senderID uuid.UUID, params domain.SendMessageParams) (*domain.Message, error)
}

// NotificationService is the part of domain.NotificationService the handlers use.
type NotificationService interface {
	GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.NotificationPage, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
	RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error
}

// DocumentService is the part of domain.DocumentService the handlers use.
type DocumentService interface {
	Report(ctx context.Context, params domain.CreateDocumentParams) (*domain.ReportResult, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	Nearby(ctx context.Context, q domain.NearbyQuery) ([]*domain.NearbyDocument, error)
	MarkReturned(ctx context.Context, userID, documentID uuid.UUID, finderDocumentID *uuid.UUID) (*domain.Document, error)
	AttachImage(ctx context.Context, userID, documentID uuid.UUID, file io.Reader, filename, contentType string) (*domain.Document, error)
}

// ProfileResolver resolves display profiles without failing.
type ProfileResolver interface {
	Resolve(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]domain.DisplayProfile
	ResolveOne(ctx context.Context, id uuid.UUID) domain.DisplayProfile
}

// ProfileReader reads a single profile.
type ProfileReader interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.UserProfile, error)
}

var (
	_ ChatService         = (*domain.ChatService)(nil)
	_ NotificationService = (*domain.NotificationService)(nil)
	_ DocumentService     = (*domain.DocumentService)(nil)
	_ ProfileResolver     = (*domain.ProfileResolver)(nil)
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxJSONBody     = 1 << 20
)

// pagination reads page and limit query parameters.
func pagination(r *http.Request) (limit, offset int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	return limit, (page - 1) * limit
}

// decodeJSON decodes and validates a request body, writing the error response
// itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}
	if err := validator.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			response.ValidationFailed(w, ve)
		} else {
			response.BadRequest(w, err.Error())
		}
		return false
	}
	return true
}

// respondError writes known domain errors as client errors and everything
// else as a logged 500.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error, msg string) {
	if response.FromError(w, err) {
		return
	}
	logger.Error(msg, zap.Error(err))
	response.InternalError(w, msg)
}

func parseUUIDPtr(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
