package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	mw "github.com/lorrc/notify-gateway/internal/adapters/primary/http/middleware"
	wsAdapter "github.com/lorrc/notify-gateway/internal/adapters/primary/websocket"
	"github.com/lorrc/notify-gateway/internal/auth"
	"github.com/lorrc/notify-gateway/internal/config"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/infrastructure/logging"
)

// WebSocketHandler authenticates and upgrades client connections. A
// connection that fails authentication never reaches the hub.
type WebSocketHandler struct {
	hub          *wsAdapter.Hub
	tm           *auth.TokenManager
	upgrader     websocket.Upgrader
	connLimiter  *mw.RateLimitByKey
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler. connLimiter may be
// nil to disable per-user connection throttling.
func NewWebSocketHandler(
	hub *wsAdapter.Hub,
	tm *auth.TokenManager,
	cfg *config.Config,
	connLimiter *mw.RateLimitByKey,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub:          hub,
		tm:           tm,
		connLimiter:  connLimiter,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "websocket"),
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		Subprotocols:    wsAdapter.Subprotocols,
		CheckOrigin:     handler.makeOriginChecker(cfg),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func (h *WebSocketHandler) makeOriginChecker(cfg *config.Config) func(r *http.Request) bool {
	allowedOrigins := cfg.WebSocket.AllowedOrigins
	development := cfg.IsDevelopment()

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// In development mode, allow all origins (but log a warning)
		if development {
			if origin != "" {
				h.logger.Warn("allowing websocket connection in development mode",
					"origin", origin,
					"remote_addr", r.RemoteAddr,
				)
			}
			return true
		}

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:]
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ServeHTTP handles WebSocket connection requests
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context(), h.logger)

	// 1. Authenticate before upgrading
	token := auth.ExtractBearer(r)
	if token == "" {
		logger.Warn("websocket connection rejected: missing token", "remote_addr", r.RemoteAddr)
		h.errorHandler.Handle(w, r, apperrors.ErrMissingToken)
		return
	}

	identity, err := h.tm.Authenticate(token)
	if err != nil {
		logger.Warn("websocket connection rejected: invalid token",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		h.errorHandler.Handle(w, r, err)
		return
	}

	if h.connLimiter != nil && !h.connLimiter.Allow(identity.UserID) {
		h.errorHandler.Handle(w, r, apperrors.ErrRateLimited)
		return
	}

	// 2. Upgrade the connection. The upgrader has answered the request on
	// failure.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade websocket connection",
			"user_id", identity.UserID,
			"error", err,
		)
		return
	}

	// 3. Register and start the pumps
	codec := wsAdapter.CodecFor(conn.Subprotocol())
	client := h.hub.NewClient(conn, identity, codec, r.RemoteAddr)
	h.hub.Register(client)

	logger.Info("websocket connection established",
		"connection_id", client.ID(),
		"user_id", identity.UserID,
		"role", identity.Role,
		"codec", codec.Name(),
	)

	go client.WritePump()
	go client.ReadPump()
}
