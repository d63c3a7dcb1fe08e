package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/supportdesk/chat-platform/internal/service"
	"github.com/supportdesk/chat-platform/pkg/logger"
)

// StatsHandler exposes aggregate chat statistics and diagnostics.
type StatsHandler struct {
	chat   *service.ChatService
	logger *logger.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(chat *service.ChatService, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		chat:   chat,
		logger: log,
	}
}

// Chat handles GET /api/v1/admin/stats
func (h *StatsHandler) Chat(w http.ResponseWriter, r *http.Request) {
	stats, err := h.chat.GetChatStats(r.Context())
	if err != nil {
		h.logger.Error("failed to aggregate chat stats", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Cache handles GET /api/v1/admin/stats/cache
func (h *StatsHandler) Cache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chat.GetCacheStats())
}

// Realtime handles GET /api/v1/admin/stats/realtime
func (h *StatsHandler) Realtime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chat.GetConnectionStatus())
}
