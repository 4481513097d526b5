package domain

import (
	"fmt"
	"time"

	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
)

// EventKind defines the type of real-time event.
type EventKind string

const (
	EventTicketCreated     EventKind = "ticket:created"
	EventTicketUpdated     EventKind = "ticket:updated"
	EventTicketAssigned    EventKind = "ticket:assigned"
	EventTicketCompleted   EventKind = "ticket:completed"
	EventJobAvailable      EventKind = "job:available"
	EventJobAccepted       EventKind = "job:accepted"
	EventMessageReceived   EventKind = "message:received"
	EventContractorMatched EventKind = "contractor:matched"
)

// EventKinds lists the closed set of kinds.
var EventKinds = []EventKind{
	EventTicketCreated,
	EventTicketUpdated,
	EventTicketAssigned,
	EventTicketCompleted,
	EventJobAvailable,
	EventJobAccepted,
	EventMessageReceived,
	EventContractorMatched,
}

// SystemOrigin marks events not caused by any particular user.
const SystemOrigin = "system"

// Valid reports whether k belongs to the closed set.
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseEventKind converts a wire value into an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownEventKind, s)
	}
	return k, nil
}

// Event is the immutable value pushed to clients. The gateway neither
// persists nor retries it.
type Event struct {
	Kind      EventKind         `json:"event"`
	Origin    string            `json:"origin"`
	Data      any               `json:"data,omitempty"`
	CreatedAt time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds a validated event. An empty origin becomes SystemOrigin.
func NewEvent(kind EventKind, origin string, data any) (Event, error) {
	if !kind.Valid() {
		return Event{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownEventKind, kind)
	}
	if origin == "" {
		origin = SystemOrigin
	}
	return Event{
		Kind:      kind,
		Origin:    origin,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// WithMetadata returns a copy of e carrying md merged over its metadata.
func (e Event) WithMetadata(md map[string]string) Event {
	if len(md) == 0 {
		return e
	}
	merged := make(map[string]string, len(e.Metadata)+len(md))
	for k, v := range e.Metadata {
		merged[k] = v
	}
	for k, v := range md {
		merged[k] = v
	}
	e.Metadata = merged
	return e
}

// StatusChangeKind picks the event kind announcing a ticket status move.
func StatusChangeKind(newStatus string) EventKind {
	switch newStatus {
	case "assigned":
		return EventTicketAssigned
	case "completed":
		return EventTicketCompleted
	default:
		return EventTicketUpdated
	}
}

// StatusChange is the payload of the composite status-change notification.
type StatusChange struct {
	TicketID  string `json:"ticketId"`
	OldStatus string `json:"oldStatus"`
	NewStatus string `json:"newStatus"`
}
