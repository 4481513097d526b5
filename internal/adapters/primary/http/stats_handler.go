package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// StatsHandler serves the operational view of the gateway.
type StatsHandler struct {
	stats        ports.StatsService
	errorHandler *ErrorHandler
}

func NewStatsHandler(stats ports.StatsService, errorHandler *ErrorHandler) *StatsHandler {
	return &StatsHandler{stats: stats, errorHandler: errorHandler}
}

// RegisterRoutes registers the stats routes.
func (h *StatsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/stats", h.HandleSnapshot)
	r.Get("/stats/topics", h.HandleTopics)
	r.Get("/connections/{userID}", h.HandleConnections)
}

// HandleSnapshot handles GET /stats.
func (h *StatsHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.stats.Snapshot(r.Context()))
}

// HandleTopics handles GET /stats/topics.
func (h *StatsHandler) HandleTopics(w http.ResponseWriter, r *http.Request) {
	WriteList[domain.TopicStats](w, h.stats.Topics())
}

// HandleConnections handles GET /connections/{userID}. A user with no
// connection on this node is reported as 404.
func (h *StatsHandler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	conns := h.stats.Connections(userID)
	if len(conns) == 0 {
		HandleError(w, r, fmt.Errorf("%w: no connections for user %q", apperrors.ErrNotFound, userID), h.errorHandler)
		return
	}
	WriteList[domain.ConnectionInfo](w, conns)
}
