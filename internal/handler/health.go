package handler

import (
	"net/http"

	"github.com/supportdesk/chat-platform/internal/service"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	chat *service.ChatService
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(chat *service.ChatService) *HealthHandler {
	return &HealthHandler{
		chat: chat,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	// Realtime unavailability is a degraded mode, not a readiness failure.
	if _, err := h.chat.GetChatStats(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "message store unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
