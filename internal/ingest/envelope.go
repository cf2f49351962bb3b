// internal/ingest/envelope.go
package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// Envelope is the push-channel wire frame. Both fields must be present;
// anything else is dropped with a diagnostic and no state change.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ErrMalformedEnvelope reports a frame missing type or data.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// Handler processes the data payload of one event type.
type Handler func(data json.RawMessage) error

// Registry routes envelopes to the handler registered for their type.
// Unknown types are ignored so the client stays forward-compatible with
// server-side additions.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty event registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for an event type like "message.created".
func (r *Registry) Register(eventType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = handler
}

// Dispatch validates the envelope and invokes the matching handler.
// Handler errors are logged and returned; they never corrupt state
// because handlers validate before mutating.
func (r *Registry) Dispatch(raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("dropping undecodable event frame", "error", err)
		return ErrMalformedEnvelope
	}
	if env.Type == "" || len(env.Data) == 0 {
		slog.Warn("dropping malformed event envelope", "type", env.Type, "has_data", len(env.Data) > 0)
		return ErrMalformedEnvelope
	}

	r.mu.RLock()
	handler, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		slog.Debug("ignoring unknown event type", "type", env.Type)
		return nil
	}

	if err := handler(env.Data); err != nil {
		slog.Error("event handler failed", "type", env.Type, "error", err)
		return err
	}
	return nil
}
