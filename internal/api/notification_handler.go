package api

import (
	"net/http"

	"github.com/findmydocs/backend/internal/middleware"
	"github.com/findmydocs/backend/pkg/response"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	service NotificationService
	logger  *zap.Logger
}

func NewNotificationHandler(service NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger,
	}
}

func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	limit, offset := pagination(r)
	page, err := h.service.GetNotifications(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to get notifications", zap.Error(err))
		response.InternalError(w, "failed to fetch notifications")
		return
	}

	response.OK(w, page)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid notification id")
		return
	}

	n, err := h.service.MarkRead(r.Context(), userID, id)
	if err != nil {
		respondError(w, h.logger, err, "failed to update notification")
		return
	}

	response.OK(w, n)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	updated, err := h.service.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to mark notifications read", zap.Error(err))
		response.InternalError(w, "failed to update notifications")
		return
	}

	response.OK(w, map[string]int{"updated": updated})
}

type registerDeviceRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"omitempty,oneof=android ios web"`
}

// RegisterDevice stores an FCM token for push notifications
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req registerDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.RegisterDevice(r.Context(), userID, req.Token, req.Platform); err != nil {
		respondError(w, h.logger, err, "failed to register device")
		return
	}

	response.OK(w, map[string]string{"status": "success"})
}
