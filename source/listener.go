// Package source turns chat messages seen by the relay's connection into
// queue records for the target topic. Chat has no replay, so records carry
// empty source partition and offset maps and cannot be resumed.
package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/irc-relay/chat"
	"github.com/onnwee/irc-relay/telemetry"
)

// DefaultBuffer is the number of records held before new chat messages are dropped.
const DefaultBuffer = 1024

// ChatMessage is the value of a source record.
type ChatMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	User      chat.User `json:"user"`
	Message   string    `json:"message"`
}

// Record is a chat message addressed to the target topic.
type Record struct {
	SourcePartition map[string]any
	SourceOffset    map[string]any
	Topic           string
	Key             string // channel
	Value           ChatMessage
}

// Listener buffers converted chat messages until Poll drains them.
type Listener struct {
	topic string
	now   func() time.Time
	queue chan Record
}

// NewListener returns a listener for topic with room for buffer records.
func NewListener(topic string, buffer int) *Listener {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Listener{topic: topic, now: time.Now, queue: make(chan Record, buffer)}
}

// Handle converts m into a record and enqueues it. It never blocks; when the
// buffer is full the message is dropped. Pass it to sink.WithMessageHandler.
func (l *Listener) Handle(m chat.InboundMessage) {
	ts := m.Time
	if ts.IsZero() {
		ts = l.now()
	}
	rec := Record{
		SourcePartition: map[string]any{},
		SourceOffset:    map[string]any{},
		Topic:           l.topic,
		Key:             m.Channel,
		Value: ChatMessage{
			Timestamp: ts.UTC(),
			Channel:   m.Channel,
			User:      m.User,
			Message:   m.Text,
		},
	}
	select {
	case l.queue <- rec:
		telemetry.IncCounter(telemetry.SourceRecords)
	default:
		telemetry.IncCounter(telemetry.SourceDropped)
		slog.Warn("source buffer full; dropping chat message", slog.String("channel", m.Channel))
	}
}

// Poll blocks until at least one record is available or ctx is done, then
// returns everything buffered, up to limit records (limit <= 0 means no limit).
func (l *Listener) Poll(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	select {
	case r := <-l.queue:
		out = append(out, r)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for limit <= 0 || len(out) < limit {
		select {
		case r := <-l.queue:
			out = append(out, r)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Pending returns the number of buffered records.
func (l *Listener) Pending() int { return len(l.queue) }
