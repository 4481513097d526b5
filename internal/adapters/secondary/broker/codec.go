package broker

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

func encodeEnvelope(env domain.Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.ID, err)
	}
	return payload, nil
}

func decodeEnvelope(payload []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// receive decodes one payload off the wire and hands it to handler.
// Undecodable payloads are logged and dropped.
func receive(payload []byte, handler ports.EnvelopeHandler, status *statusTracker, logger *slog.Logger) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		logger.Warn("dropping malformed envelope", "error", err, "bytes", len(payload))
		return
	}
	status.recordReceived()
	handler(env)
}
