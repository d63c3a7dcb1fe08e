package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/supportdesk/chat-platform/internal/middleware"
	"github.com/supportdesk/chat-platform/internal/model"
	"github.com/supportdesk/chat-platform/internal/service"
	"github.com/supportdesk/chat-platform/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	chat   *service.ChatService
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(chat *service.ChatService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		chat:   chat,
		logger: log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.chat.CreateConversation(ctx, &req, userID, middleware.IsStaff(ctx))
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	convs, err := h.chat.GetUserConversations(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}

// ListAll handles GET /api/v1/admin/conversations
func (h *ConversationHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := &model.ConversationFilter{
		Status:   model.ConversationStatus(r.URL.Query().Get("status")),
		Priority: model.ConversationPriority(r.URL.Query().Get("priority")),
	}

	convs, err := h.chat.GetAllConversations(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list all conversations", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}

// Delete handles DELETE /api/v1/conversations/:id
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.chat.DeleteConversation(ctx, conversationID, userID)
	if err != nil {
		h.logger.Warn("failed to delete conversation",
			zap.String("conversation_id", conversationID), zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}
