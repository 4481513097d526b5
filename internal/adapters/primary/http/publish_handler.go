package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/lorrc/notify-gateway/internal/adapters/primary/validation"
	wsAdapter "github.com/lorrc/notify-gateway/internal/adapters/primary/websocket"
	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// NotifyRequest is the body of every targeted notify call.
type NotifyRequest struct {
	Event    string            `json:"event" validate:"required,event_kind"`
	Data     any               `json:"data,omitempty"`
	Origin   string            `json:"origin,omitempty" validate:"max=128"`
	Metadata map[string]string `json:"metadata,omitempty" validate:"max=32"`
}

func (req *NotifyRequest) toEvent() domain.Event {
	return domain.Event{
		Kind:     domain.EventKind(req.Event),
		Origin:   req.Origin,
		Data:     req.Data,
		Metadata: req.Metadata,
	}
}

// StatusChangeRequest is the body of POST /notify/status-change.
type StatusChangeRequest struct {
	TicketID        string            `json:"ticketId" validate:"required,max=128"`
	OldStatus       string            `json:"oldStatus,omitempty" validate:"max=64"`
	NewStatus       string            `json:"newStatus" validate:"required,max=64"`
	AffectedUserIDs []string          `json:"affectedUserIds,omitempty" validate:"max=500,dive,required,max=128"`
	Origin          string            `json:"origin,omitempty" validate:"max=128"`
	Metadata        map[string]string `json:"metadata,omitempty" validate:"max=32"`
}

// PublishHandler exposes the dispatcher to other backend services.
type PublishHandler struct {
	dispatcher   ports.Dispatcher
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewPublishHandler creates a new PublishHandler.
func NewPublishHandler(
	dispatcher ports.Dispatcher,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *PublishHandler {
	return &PublishHandler{
		dispatcher:   dispatcher,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "publish"),
	}
}

// RegisterRoutes registers the publish routes.
func (h *PublishHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notify", func(r chi.Router) {
		r.Post("/users/{userID}", h.HandleNotifyUser)
		r.Post("/topics/{topic}", h.HandleNotifyTopic)
		r.Post("/roles/{role}", h.HandleNotifyRole)
		r.Post("/broadcast", h.HandleBroadcast)
		r.Post("/status-change", h.HandleStatusChange)
	})
	r.Delete("/connections/{userID}", h.HandleDisconnect)
}

// HandleNotifyUser handles POST /notify/users/{userID}.
func (h *PublishHandler) HandleNotifyUser(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[NotifyRequest](r)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	result, err := h.dispatcher.NotifyUser(r.Context(), pathParam(r, "userID"), req.toEvent())
	if HandleError(w, r, err, h.errorHandler) {
		return
	}
	WriteAccepted(w, result)
}

// HandleNotifyTopic handles POST /notify/topics/{topic}.
func (h *PublishHandler) HandleNotifyTopic(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[NotifyRequest](r)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	topic := domain.Topic(pathParam(r, "topic"))
	result, err := h.dispatcher.NotifyTopic(r.Context(), topic, req.toEvent())
	if HandleError(w, r, err, h.errorHandler) {
		return
	}
	WriteAccepted(w, result)
}

// HandleNotifyRole handles POST /notify/roles/{role}.
func (h *PublishHandler) HandleNotifyRole(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[NotifyRequest](r)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	role := domain.Role(pathParam(r, "role"))
	result, err := h.dispatcher.NotifyRole(r.Context(), role, req.toEvent())
	if HandleError(w, r, err, h.errorHandler) {
		return
	}
	WriteAccepted(w, result)
}

// HandleBroadcast handles POST /notify/broadcast.
func (h *PublishHandler) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[NotifyRequest](r)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	result, err := h.dispatcher.Broadcast(r.Context(), req.toEvent())
	if HandleError(w, r, err, h.errorHandler) {
		return
	}
	WriteAccepted(w, result)
}

// HandleStatusChange handles POST /notify/status-change.
func (h *PublishHandler) HandleStatusChange(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[StatusChangeRequest](r)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	result, err := h.dispatcher.NotifyStatusChange(r.Context(), ports.StatusChangeParams{
		TicketID:        req.TicketID,
		OldStatus:       req.OldStatus,
		NewStatus:       req.NewStatus,
		AffectedUserIDs: req.AffectedUserIDs,
		Origin:          req.Origin,
		Metadata:        req.Metadata,
	})
	if HandleError(w, r, err, h.errorHandler) {
		return
	}
	WriteAccepted(w, result)
}

// HandleDisconnect handles DELETE /connections/{userID}?reason=...
func (h *PublishHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "disconnected by server"
	}
	if len(reason) > wsAdapter.MaxCloseReason {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(apperrors.ErrBadRequest,
			fmt.Sprintf("reason must be at most %d bytes", wsAdapter.MaxCloseReason)))
		return
	}

	result, err := h.dispatcher.DisconnectUser(r.Context(), userID, reason)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	h.logger.InfoContext(r.Context(), "forced disconnect requested",
		"user_id", userID,
		"local_connections", result.LocalRecipients,
	)
	WriteAccepted(w, result)
}

// pathParam returns the unescaped chi URL parameter.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
