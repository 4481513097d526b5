package domain

import (
	"github.com/google/uuid"
	"github.com/samber/lo"

	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
)

// EnvelopeAction tells a receiving node what to do with an envelope.
type EnvelopeAction string

const (
	ActionDeliver    EnvelopeAction = "deliver"
	ActionDisconnect EnvelopeAction = "disconnect"
)

// Envelope is the unit that crosses process boundaries. Every node applies
// it against its own live connections.
type Envelope struct {
	ID     string         `json:"id"`
	Node   string         `json:"node"`
	Action EnvelopeAction `json:"action"`
	// Topics whose union of members receives Event, once per connection.
	Topics []Topic `json:"topics,omitempty"`
	// All targets every open connection regardless of topic.
	All   bool   `json:"all,omitempty"`
	Event *Event `json:"event,omitempty"`
	// UserID and Reason are used by ActionDisconnect.
	UserID string `json:"userId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewDeliveryEnvelope addresses event to the union of topics.
func NewDeliveryEnvelope(node string, event Event, topics ...Topic) (Envelope, error) {
	topics = lo.Uniq(lo.Compact(topics))
	if len(topics) == 0 {
		return Envelope{}, apperrors.ErrEmptyTarget
	}
	return Envelope{
		ID:     uuid.NewString(),
		Node:   node,
		Action: ActionDeliver,
		Topics: topics,
		Event:  &event,
	}, nil
}

// NewBroadcastEnvelope addresses event to every connection.
func NewBroadcastEnvelope(node string, event Event) Envelope {
	return Envelope{
		ID:     uuid.NewString(),
		Node:   node,
		Action: ActionDeliver,
		All:    true,
		Event:  &event,
	}
}

// NewDisconnectEnvelope asks every node to close userID's connections.
func NewDisconnectEnvelope(node, userID, reason string) (Envelope, error) {
	if userID == "" {
		return Envelope{}, apperrors.ErrUserIDRequired
	}
	return Envelope{
		ID:     uuid.NewString(),
		Node:   node,
		Action: ActionDisconnect,
		UserID: userID,
		Reason: reason,
	}, nil
}

// DispatchResult reports what a dispatch call did on the calling node.
type DispatchResult struct {
	EnvelopeID      string `json:"envelopeId"`
	LocalRecipients int    `json:"localRecipients"`
	Forwarded       bool   `json:"forwarded"`
}
