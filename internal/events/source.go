// Package events feeds externally published metric events into the trigger
// engine. Transport is NATS; payloads are JSON.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/danielpatrickdp/swarm-conductor/internal/trigger"
)

// #region wire

// wireEvent is the JSON payload published on the events subject.
type wireEvent struct {
	Type   string   `json:"type"`
	Metric string   `json:"metric"`
	Value  *float64 `json:"value"`
	At     string   `json:"at,omitempty"` // RFC3339, defaults to receipt time
}

// Decode parses and validates one event payload. Malformed payloads are
// rejected at the boundary; the stream continues without them.
func Decode(data []byte) (trigger.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return trigger.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if w.Type == "" {
		return trigger.Event{}, fmt.Errorf("decode event: missing type")
	}
	if w.Metric == "" {
		return trigger.Event{}, fmt.Errorf("decode event: missing metric")
	}
	if w.Value == nil {
		return trigger.Event{}, fmt.Errorf("decode event: missing value")
	}

	at := time.Now().UTC()
	if w.At != "" {
		parsed, err := time.Parse(time.RFC3339, w.At)
		if err != nil {
			return trigger.Event{}, fmt.Errorf("decode event: bad timestamp %q: %w", w.At, err)
		}
		at = parsed
	}

	return trigger.Event{Type: w.Type, Metric: w.Metric, Value: *w.Value, At: at}, nil
}

// #endregion wire

// #region source

// Source subscribes to a NATS subject and delivers decoded events.
type Source struct {
	subject string
	sub     *nats.Subscription
	out     chan trigger.Event
}

// NewSource subscribes on an existing connection. Decode failures are logged
// and dropped so one bad publisher cannot stall the trigger engine.
func NewSource(nc *nats.Conn, subject string, buffer int) (*Source, error) {
	s := &Source{subject: subject, out: make(chan trigger.Event, buffer)}

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		s.deliver(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	return s, nil
}

// deliver decodes one payload onto the event channel, dropping on decode
// failure or a full buffer.
func (s *Source) deliver(data []byte) {
	evt, err := Decode(data)
	if err != nil {
		log.Printf("[EVENTS] dropping message on %s: %v", s.subject, err)
		return
	}
	select {
	case s.out <- evt:
	default:
		log.Printf("[EVENTS] buffer full, dropping %s/%s", evt.Type, evt.Metric)
	}
}

// Events returns the decoded event stream.
func (s *Source) Events() <-chan trigger.Event {
	return s.out
}

// Close unsubscribes from the subject. The event channel stays open:
// Unsubscribe does not wait for an in-flight handler, so a send may still
// be pending. Receivers stop via their own context.
func (s *Source) Close() error {
	return s.sub.Unsubscribe()
}

// #endregion source
