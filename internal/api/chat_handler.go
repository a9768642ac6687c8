package api

import (
	"net/http"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/findmydocs/backend/internal/middleware"
	"github.com/findmydocs/backend/pkg/response"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChatHandler struct {
	chatService ChatService
	wsManager   *WebSocketManager
	logger      *zap.Logger
}

func NewChatHandler(chatService ChatService, wsManager *WebSocketManager, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		wsManager:   wsManager,
		logger:      logger,
	}
}

// HandleWebSocket upgrades HTTP connection to WebSocket
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	// Upgrade writes its own error response
	if err := h.wsManager.Serve(w, r, userID); err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
	}
}

// GetThreads returns the user's conversations. A backend failure yields an
// empty list with a warning rather than an error.
func (h *ChatHandler) GetThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	threads, err := h.chatService.LoadThreads(r.Context(), userID)
	if err != nil {
		h.logger.Warn("failed to load threads", zap.String("user_id", userID.String()), zap.Error(err))
		response.Degraded(w, []*domain.Thread{}, "could not load conversations")
		return
	}
	if threads == nil {
		threads = []*domain.Thread{}
	}

	response.OK(w, threads)
}

// GetThreadMessages returns a page of one conversation, newest first
func (h *ChatHandler) GetThreadMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	key, err := domain.ParseThreadKey(chi.URLParam(r, "key"))
	if err != nil {
		response.BadRequest(w, "invalid thread key")
		return
	}

	limit, offset := pagination(r)
	messages, err := h.chatService.ThreadMessages(r.Context(), userID, key, limit, offset)
	if err != nil {
		respondError(w, h.logger, err, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}

	response.OK(w, messages)
}

// MarkThreadRead marks the messages the user received in a thread as read
func (h *ChatHandler) MarkThreadRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	key, err := domain.ParseThreadKey(chi.URLParam(r, "key"))
	if err != nil {
		response.BadRequest(w, "invalid thread key")
		return
	}

	updated, err := h.chatService.MarkThreadRead(r.Context(), userID, key)
	if err != nil {
		respondError(w, h.logger, err, "failed to mark thread read")
		return
	}

	response.OK(w, map[string]int{"updated": updated})
}

type sendMessageRequest struct {
	ReceiverID string           `json:"receiver_id" validate:"required,uuid"`
	DocumentID *string          `json:"document_id" validate:"omitempty,uuid"`
	Text       string           `json:"text" validate:"required,max=2000"`
	Location   *domain.Location `json:"location"`
}

// SendMessage stores a message. Delivery to the receiver happens through the
// realtime feed.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		response.BadRequest(w, "invalid receiver id")
		return
	}
	documentID, err := parseUUIDPtr(req.DocumentID)
	if err != nil {
		response.BadRequest(w, "invalid document id")
		return
	}

	msg, err := h.chatService.SendMessage(r.Context(), userID, domain.SendMessageParams{
		ReceiverID: receiverID,
		DocumentID: documentID,
		Text:       req.Text,
		Location:   req.Location,
	})
	if err != nil {
		respondError(w, h.logger, err, "failed to send message")
		return
	}

	response.Created(w, msg)
}
