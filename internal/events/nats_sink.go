package events

import (
	"context"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes Events to a NATS subject. Grounded on
// internal/notify/nats.go's NATSBackend.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url and targets subject for future Publish calls.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (n *NATSSink) Name() string { return "nats" }

func (n *NATSSink) Publish(_ context.Context, payload []byte) error {
	return n.conn.Publish(n.subject, payload)
}

func (n *NATSSink) Close() error {
	n.conn.Close()
	return nil
}
