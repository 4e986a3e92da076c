// Package deadletter publishes chat turns that failed before being stored,
// so they can be inspected or replayed from NATS Streaming.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stan "github.com/nats-io/stan.go"
)

// conn is the publishing half of stan.Conn.
type conn interface {
	Publish(subject string, data []byte) error
}

// Event is the JSON payload of one dead-lettered turn.
type Event struct {
	SessionID string    `json:"sessionId"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failedAt"`
}

type Publisher struct {
	conn    conn
	subject string
	now     func() time.Time
}

func New(c conn, subject string) (*Publisher, error) {
	if c == nil {
		return nil, errors.New("deadletter: connection must not be nil")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, errors.New("deadletter: subject must not be empty")
	}
	return &Publisher{conn: c, subject: subject, now: time.Now}, nil
}

// Publish sends one event synchronously; it returns after the streaming
// server acknowledged the message.
func (p *Publisher) Publish(ctx context.Context, sessionID, message, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Event{
		SessionID: sessionID,
		Message:   message,
		Reason:    reason,
		FailedAt:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("deadletter: marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("deadletter: publish to %s: %w", p.subject, err)
	}
	return nil
}

// Connect opens a NATS Streaming connection. An empty clientID is replaced
// by a unique one, since the server rejects duplicate client ids.
func Connect(clusterID, clientID, natsURL string) (stan.Conn, error) {
	if clientID == "" {
		clientID = fmt.Sprintf("shop-assistant-%d", time.Now().UnixNano())
	}
	sc, err := stan.Connect(clusterID, clientID, stan.NatsURL(natsURL), stan.ConnectWait(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("deadletter: connect to %s: %w", natsURL, err)
	}
	return sc, nil
}
