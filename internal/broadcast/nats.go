package broadcast

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is where activity events are published.
const DefaultSubject = "cellguard.activity"

// NATS publishes events as JSON on a subject.
type NATS struct {
	Conn    *nats.Conn
	Subject string
	owned   bool
}

// NewNATS publishes over an existing connection.
func NewNATS(conn *nats.Conn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{Conn: conn, Subject: subject}
}

// ConnectNATS dials url and returns a publisher that owns the connection.
func ConnectNATS(url, subject string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("cellguard-broadcast"))
	if err != nil {
		return nil, err
	}
	p := NewNATS(conn, subject)
	p.owned = true
	return p, nil
}

// Name implements Broadcaster.
func (p *NATS) Name() string { return "nats" }

// Broadcast implements Broadcaster.
func (p *NATS) Broadcast(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.Conn.Publish(p.Subject, data)
}

// Close drains the connection if the publisher opened it.
func (p *NATS) Close() {
	if p.owned && p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}
