package diagnose

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/autologic-mx/obi2/pkg/natsutil"
)

// Event kinds published on session state changes.
const (
	EventTurn  = "turn"
	EventSaved = "saved"
	EventReset = "reset"
)

// Event is the payload published when a session changes.
type Event struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Kind      string `json:"kind"`
	Severity  string `json:"severity,omitempty"`
	FastPath  bool   `json:"fastPath,omitempty"`
}

// EventPublisher receives session lifecycle events. Publishing is fire
// and forget; a slow or down broker never blocks a turn.
type EventPublisher interface {
	Publish(ctx context.Context, e Event)
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

// NATSPublisher publishes events to obi2.session.<kind>.
type NATSPublisher struct {
	nc  *nats.Conn
	log *slog.Logger
}

// NewNATSPublisher creates a publisher on an existing connection.
func NewNATSPublisher(nc *nats.Conn, log *slog.Logger) *NATSPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &NATSPublisher{nc: nc, log: log}
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) {
	if err := natsutil.Publish(ctx, p.nc, "obi2.session."+e.Kind, e); err != nil {
		p.log.Warn("session event not published", "kind", e.Kind, "error", err)
	}
}
