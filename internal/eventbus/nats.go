/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus onto NATS so
// external consumers can follow roster activity.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/vakt/internal/events"
)

// SubjectPrefix is prepended to the event type to form the NATS subject,
// e.g. run.completed publishes to vakt.events.run.completed.
const SubjectPrefix = "vakt.events."

// bridgedTypes are the event types forwarded to NATS. Audit events stay
// in-process; they reach the audit log instead.
var bridgedTypes = []events.EventType{
	events.EventInstanceCreated,
	events.EventInstanceDeleted,
	events.EventRunQueued,
	events.EventRunStarted,
	events.EventRunCompleted,
	events.EventRunFailed,
}

// natsMessage is the wire form of a republished event.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// marshalMessage converts a bus event to its NATS wire form.
func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
	})
}

// unmarshalMessage parses a NATS message back into its envelope.
func unmarshalMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

// NATSBridge republishes in-process bus events to NATS subjects.
type NATSBridge struct {
	conn   *nats.Conn
	bus    *events.Bus
	nodeID string
	logger zerolog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewNATSBridge connects to NATS and starts forwarding bus events.
func NewNATSBridge(url string, bus *events.Bus, nodeID string, logger zerolog.Logger) (*NATSBridge, error) {
	log := logger.With().Str("component", "eventbus").Logger()

	conn, err := nats.Connect(url,
		nats.Name("vakt-"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	nb := &NATSBridge{
		conn:   conn,
		bus:    bus,
		nodeID: nodeID,
		logger: log,
		done:   make(chan struct{}),
	}

	for _, eventType := range bridgedTypes {
		nb.wg.Add(1)
		go nb.forward(eventType, bus.Subscribe(eventType))
	}

	log.Info().
		Str("url", url).
		Int("types", len(bridgedTypes)).
		Msg("nats bridge started")
	return nb, nil
}

// forward republishes one subscription until the bridge closes.
func (nb *NATSBridge) forward(eventType events.EventType, sub events.Subscriber) {
	defer nb.wg.Done()
	for {
		select {
		case payload, ok := <-sub:
			if !ok {
				return
			}
			nb.publish(eventType, payload)
		case <-nb.done:
			return
		}
	}
}

func (nb *NATSBridge) publish(eventType events.EventType, payload events.Payload) {
	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).
			Str("event_type", string(eventType)).
			Msg("marshal event failed")
		return
	}

	subject := SubjectPrefix + string(eventType)
	if err := nb.conn.Publish(subject, data); err != nil {
		nb.logger.Warn().Err(err).
			Str("subject", subject).
			Msg("nats publish failed")
	}
}

// Close stops forwarding and drains the connection so queued
// messages flush before shutdown.
func (nb *NATSBridge) Close() error {
	close(nb.done)
	nb.wg.Wait()

	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	return nil
}
