package websocket

import (
	"time"

	"github.com/lorrc/notify-gateway/internal/core/domain"
)

// Client message types.
const (
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessagePing        = "ping"
)

// Server frame types that are not event kinds.
const (
	FrameConnected = "connected"
	FrameAck       = "ack"
	FramePong      = "pong"
	FrameError     = "error"
)

// Error codes carried in error frames.
const (
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeUnknownType    = "UNKNOWN_TYPE"
	CodeInvalidTopic   = "INVALID_TOPIC"
	CodeForbiddenTopic = "FORBIDDEN_TOPIC"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// ClientMessage is a request sent by a connected client.
type ClientMessage struct {
	Type   string           `json:"type" cbor:"type"`
	ID     string           `json:"id,omitempty" cbor:"id,omitempty"`
	Topic  string           `json:"topic,omitempty" cbor:"topic,omitempty"`
	Filter domain.JobFilter `json:"filter,omitempty" cbor:"filter,omitempty"`
}

// ServerFrame is everything the gateway writes to a client. ID echoes the
// request a response belongs to.
type ServerFrame struct {
	Type    string `json:"type" cbor:"type"`
	ID      string `json:"id,omitempty" cbor:"id,omitempty"`
	Payload any    `json:"payload,omitempty" cbor:"payload,omitempty"`
}

// ConnectedPayload is sent once, right after registration.
type ConnectedPayload struct {
	ConnectionID string      `json:"connectionId" cbor:"connectionId"`
	UserID       string      `json:"userId" cbor:"userId"`
	Role         domain.Role `json:"role" cbor:"role"`
	TenantID     string      `json:"tenantId,omitempty" cbor:"tenantId,omitempty"`
	Timestamp    time.Time   `json:"timestamp" cbor:"timestamp"`
}

// AckPayload confirms a subscribe or unsubscribe. Filter echoes the
// resolved jobs parameters.
type AckPayload struct {
	Action string           `json:"action" cbor:"action"`
	Topic  domain.Topic     `json:"topic" cbor:"topic"`
	Filter domain.JobFilter `json:"filter,omitempty" cbor:"filter,omitempty"`
}

// PongPayload answers an application-level ping.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp" cbor:"timestamp"`
}

// ErrorPayload reports a rejected client request.
type ErrorPayload struct {
	Code    string `json:"code" cbor:"code"`
	Message string `json:"message" cbor:"message"`
}

// SubscriptionRequest is a resolved subscribe/unsubscribe request.
type SubscriptionRequest struct {
	Topic  string
	Filter domain.JobFilter
}

// SubscriptionAck is what a successful join grants.
type SubscriptionAck struct {
	Topic  domain.Topic
	Filter domain.JobFilter
}

func eventFrame(event *domain.Event) ServerFrame {
	return ServerFrame{Type: string(event.Kind), Payload: event}
}

func errorFrame(id, code, message string) ServerFrame {
	return ServerFrame{Type: FrameError, ID: id, Payload: ErrorPayload{Code: code, Message: message}}
}
