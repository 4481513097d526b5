package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/infrastructure/logging"
)

// Application close codes.
const (
	CloseTokenExpired     = 4001
	CloseSlowConsumer     = 4002
	CloseForcedDisconnect = 4003
	CloseIdleTimeout      = 4004
)

// MaxCloseReason is the longest reason a close frame can carry: a control
// frame payload is 125 bytes, two of which hold the code.
const MaxCloseReason = 123

// ClientConfig holds the per-connection transport limits.
type ClientConfig struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
	// Outbound frames buffered before the connection counts as slow.
	SendBufferSize int
	// Inbound messages per second; zero disables the limit.
	MessagesPerSecond float64
	Burst             int
	// Close the connection when the token's exp passes.
	EnforceTokenExpiry bool
}

// DefaultClientConfig returns the transport limits used when none are
// configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
		PingPeriod:        (60 * time.Second * 9) / 10,
		MaxMessageSize:    4096,
		SendBufferSize:    256,
		MessagesPerSecond: 20,
		Burst:             40,
	}
}

type deliverResult int

const (
	deliverQueued deliverResult = iota
	deliverClosed
	deliverFull
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id         string
	identity   domain.Identity
	hub        *Hub
	conn       *websocket.Conn
	codec      Codec
	cfg        ClientConfig
	remoteAddr string

	// Buffered channel of encoded outbound frames. It is never closed;
	// done signals the end of the connection instead.
	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	// mu protects topics
	mu     sync.RWMutex
	topics map[domain.Topic]struct{}

	connectedAt  time.Time
	lastActivity atomic.Int64
	framesIn     atomic.Uint64
	limiter      *rate.Limiter

	logger *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, identity domain.Identity, codec Codec, remoteAddr string) *Client {
	cfg := hub.cfg.Client
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	if codec == nil {
		codec = jsonCodec{}
	}

	c := &Client{
		id:          uuid.NewString(),
		identity:    identity,
		hub:         hub,
		conn:        conn,
		codec:       codec,
		cfg:         cfg,
		remoteAddr:  remoteAddr,
		send:        make(chan []byte, cfg.SendBufferSize),
		done:        make(chan struct{}),
		topics:      make(map[domain.Topic]struct{}),
		connectedAt: time.Now().UTC(),
		limiter:     rate.NewLimiter(limit, cfg.Burst),
	}
	c.touch()

	ctx := logging.WithConnectionID(context.Background(), c.id)
	ctx = logging.WithUserID(ctx, identity.UserID)
	ctx = logging.WithTenantID(ctx, identity.TenantID)
	c.logger = logging.LoggerFromContext(ctx, hub.logger).With("role", identity.Role)
	return c
}

func (c *Client) ID() string                { return c.id }
func (c *Client) Identity() domain.Identity { return c.identity }

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// LastActivity is the time of the last inbound frame or pong.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Topics returns a copy of the connection's memberships.
func (c *Client) Topics() []domain.Topic {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]domain.Topic, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	return topics
}

func (c *Client) addTopic(t domain.Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[t] = struct{}{}
}

func (c *Client) removeTopic(t domain.Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, t)
}

// Info returns a read-only snapshot of the connection.
func (c *Client) Info() domain.ConnectionInfo {
	return domain.ConnectionInfo{
		ID:           c.id,
		UserID:       c.identity.UserID,
		Role:         c.identity.Role,
		TenantID:     c.identity.TenantID,
		Topics:       c.Topics(),
		RemoteAddr:   c.remoteAddr,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.LastActivity().UTC(),
	}
}

// Close asks the write pump to send a close frame with code and end the
// connection. Only the first call has an effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = truncateReason(reason)
		close(c.done)
	})
}

// truncateReason cuts reason to MaxCloseReason bytes on a rune boundary.
func truncateReason(reason string) string {
	if len(reason) <= MaxCloseReason {
		return reason
	}
	cut := MaxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// enqueue queues an encoded frame without blocking.
func (c *Client) enqueue(msg []byte) deliverResult {
	select {
	case <-c.done:
		return deliverClosed
	default:
	}

	select {
	case c.send <- msg:
		return deliverQueued
	case <-c.done:
		return deliverClosed
	default:
		return deliverFull
	}
}

// sendFrame encodes and queues a response to this client only.
func (c *Client) sendFrame(frame ServerFrame) {
	data, err := c.codec.Encode(frame)
	if err != nil {
		c.logger.Error("failed to encode frame", "type", frame.Type, "error", err)
		return
	}
	if c.enqueue(data) == deliverFull {
		c.logger.Warn("client send buffer full, closing", "type", frame.Type)
		c.Close(CloseSlowConsumer, "send buffer full")
	}
}

// ReadPump pumps messages from the websocket connection to the hub. Its
// exit is the single point where the connection is unregistered.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if r := recover(); r != nil {
			logging.LogPanic(c.logger, r)
		}
		cancel()
		c.hub.Unregister(c)
		c.Close(websocket.CloseNormalClosure, "")
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		c.touch()
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		c.touch()
		c.framesIn.Add(1)
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Error("failed to set read deadline", "error", err)
			return
		}

		if !c.limiter.Allow() {
			c.sendFrame(errorFrame("", CodeRateLimited, apperrors.ErrRateLimited.Error()))
			continue
		}

		c.handleIncomingMessage(ctx, message)
	}
}

// WritePump pumps frames from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		if r := recover(); r != nil {
			logging.LogPanic(c.logger, r)
		}
		ticker.Stop()
		_ = c.conn.Close()
	}()

	var expired <-chan time.Time
	if c.cfg.EnforceTokenExpiry && !c.identity.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(c.identity.ExpiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}
			if err := c.conn.WriteMessage(c.codec.MessageType(), msg); err != nil {
				c.logger.Debug("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}

		case <-expired:
			c.logger.Info("token expired, closing connection")
			c.Close(CloseTokenExpired, "token expired")

		case <-c.done:
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait)); err != nil &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("failed to send close message", "error", err)
			}
			return
		}
	}
}

// --- Incoming Message Handling ---

// handleIncomingMessage processes messages received from the client
func (c *Client) handleIncomingMessage(ctx context.Context, message []byte) {
	var msg ClientMessage
	if err := c.codec.Decode(message, &msg); err != nil {
		c.logger.Warn("failed to decode client message", "error", err)
		c.sendFrame(errorFrame("", CodeInvalidMessage, "malformed message"))
		return
	}

	switch msg.Type {
	case MessageSubscribe:
		ack, err := c.hub.Subscribe(ctx, c, SubscriptionRequest{Topic: msg.Topic, Filter: msg.Filter})
		if err != nil {
			c.sendFrame(requestErrorFrame(msg.ID, err))
			return
		}
		c.sendFrame(ServerFrame{Type: FrameAck, ID: msg.ID, Payload: AckPayload{
			Action: MessageSubscribe, Topic: ack.Topic, Filter: ack.Filter,
		}})

	case MessageUnsubscribe:
		ack, err := c.hub.Unsubscribe(c, SubscriptionRequest{Topic: msg.Topic, Filter: msg.Filter})
		if err != nil {
			c.sendFrame(requestErrorFrame(msg.ID, err))
			return
		}
		c.sendFrame(ServerFrame{Type: FrameAck, ID: msg.ID, Payload: AckPayload{
			Action: MessageUnsubscribe, Topic: ack.Topic, Filter: ack.Filter,
		}})

	case MessagePing:
		c.sendFrame(ServerFrame{Type: FramePong, ID: msg.ID, Payload: PongPayload{Timestamp: time.Now().UTC()}})

	default:
		c.logger.Debug("received unknown message type", "type", msg.Type)
		c.sendFrame(errorFrame(msg.ID, CodeUnknownType, apperrors.ErrUnknownMessageType.Error()))
	}
}

func requestErrorFrame(id string, err error) ServerFrame {
	code := errorCode(err)
	if code == CodeInternal {
		return errorFrame(id, code, "internal error")
	}
	return errorFrame(id, code, err.Error())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrTopicForbidden):
		return CodeForbiddenTopic
	case errors.Is(err, apperrors.ErrInvalidTopic),
		errors.Is(err, apperrors.ErrUnknownFamily),
		errors.Is(err, apperrors.ErrInvalidJobFilter):
		return CodeInvalidTopic
	default:
		return CodeInternal
	}
}
