// Package events publishes command and connection lifecycle events to NATS
// JetStream so the chat backend and dashboards can react without polling
// Postgres.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pentagent/pentagent/pkg/types"
)

const streamName = "RELAY_EVENTS"

// Event is the JSON payload published to NATS.
type Event struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connection_id,omitempty"`
	CommandID    string          `json:"command_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Publisher publishes relay lifecycle events. Publishing is best-effort:
// a failed publish is logged, never propagated, because events are an
// observability surface and must not fail a dispatch.
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the relay event stream exists.
func NewPublisher(natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"relay.events.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		// Stream may already exist, that's OK
		log.Printf("events: stream setup: %v", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	p.nc.Close()
}

func (p *Publisher) publish(subject string, event Event) {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("events: marshal %s: %v", subject, err)
		return
	}
	if _, err := p.js.Publish(subject, data); err != nil {
		log.Printf("events: publish %s: %v", subject, err)
	}
}

// ConnectionOpened publishes a remote client's successful authentication.
func (p *Publisher) ConnectionOpened(conn types.RemoteConnection) {
	payload, _ := json.Marshal(conn)
	p.publish("relay.events.connection.opened", Event{
		Type:         "connection.opened",
		ConnectionID: conn.ID,
		Payload:      payload,
	})
}

// ConnectionClosed publishes an explicit disconnect or a stale sweep.
func (p *Publisher) ConnectionClosed(connectionID, reason string) {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	p.publish("relay.events.connection.closed", Event{
		Type:         "connection.closed",
		ConnectionID: connectionID,
		Payload:      payload,
	})
}

// CommandCompleted implements dispatch.EventSink.
func (p *Publisher) CommandCompleted(cmd types.Command, result types.CommandResult) {
	payload, _ := json.Marshal(map[string]any{
		"exitCode":   result.ExitCode,
		"durationMs": result.DurationMs,
	})
	p.publish("relay.events.command.completed", Event{
		Type:         "command.completed",
		ConnectionID: cmd.ConnectionID,
		CommandID:    cmd.ID,
		Payload:      payload,
	})
}

// CommandAbandoned implements dispatch.EventSink.
func (p *Publisher) CommandAbandoned(cmd types.Command) {
	p.publish("relay.events.command.abandoned", Event{
		Type:         "command.abandoned",
		ConnectionID: cmd.ConnectionID,
		CommandID:    cmd.ID,
	})
}
