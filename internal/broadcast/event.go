// Package broadcast pushes agent activity to observers. Delivery is best
// effort: a failed broadcast is logged and counted, never returned to the
// operation that produced it.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/samijaber1/cellguard/internal/metrics"
)

// Event types.
const (
	TypeAgentActivity  = "agent_activity"
	TypeInitialState   = "initial_state"
	TypeStatusUpdate   = "status_update"
	TypeAgentTriggered = "agent_triggered"
	TypeAgentError     = "agent_error"
	TypeAgentToggled   = "agent_toggled"
)

// Event is one activity message.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Agent     string    `json:"agent,omitempty"`
	Action    string    `json:"action,omitempty"`
	Service   string    `json:"service,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps a fresh id and time on an event of type t.
func NewEvent(t string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		CreatedAt: time.Now().UTC(),
	}
}

// Broadcaster delivers events to observers.
type Broadcaster interface {
	Name() string
	Broadcast(ctx context.Context, evt Event) error
}

// Notify broadcasts evt and swallows any failure.
func Notify(ctx context.Context, b Broadcaster, logger *slog.Logger, evt Event) {
	if b == nil {
		return
	}
	if err := b.Broadcast(ctx, evt); err != nil {
		metrics.BroadcastFailed(b.Name())
		if logger != nil {
			logger.Warn("broadcast failed", "sink", b.Name(), "type", evt.Type, "error", err)
		}
	}
}

// Noop drops every event.
type Noop struct{}

func (Noop) Name() string { return "noop" }
func (Noop) Broadcast(context.Context, Event) error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Broadcaster

// Name implements Broadcaster.
func (m Multi) Name() string { return "multi" }

// Broadcast delivers to all sinks even when some fail.
func (m Multi) Broadcast(ctx context.Context, evt Event) error {
	var errs []error
	for _, b := range m {
		if err := b.Broadcast(ctx, evt); err != nil {
			metrics.BroadcastFailed(b.Name())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
