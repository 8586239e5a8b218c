package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/irc-relay/chat"
)

func TestHandleConvertsMessage(t *testing.T) {
	l := NewListener("chat-in", 4)
	sent := time.Date(2024, 5, 3, 12, 0, 0, 0, time.FixedZone("x", 3600))
	l.Handle(chat.InboundMessage{
		Time:    sent,
		Channel: "alerts",
		User:    chat.User{Nick: "Alice", Username: "alice", Host: "alice.tmi.twitch.tv"},
		Text:    "deploy done",
	})

	recs, err := l.Poll(context.Background(), 0)
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Poll() returned %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.Topic != "chat-in" || r.Key != "alerts" {
		t.Errorf("topic/key = %q/%q", r.Topic, r.Key)
	}
	if r.SourcePartition == nil || len(r.SourcePartition) != 0 || r.SourceOffset == nil || len(r.SourceOffset) != 0 {
		t.Errorf("source partition/offset should be empty maps: %v %v", r.SourcePartition, r.SourceOffset)
	}
	if !r.Value.Timestamp.Equal(sent) || r.Value.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v, want %v in UTC", r.Value.Timestamp, sent)
	}
	if r.Value.Message != "deploy done" || r.Value.User.Username != "alice" {
		t.Errorf("value = %+v", r.Value)
	}
}

func TestHandleStampsMissingTime(t *testing.T) {
	l := NewListener("chat-in", 1)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	l.Handle(chat.InboundMessage{Channel: "alerts", Text: "x"})
	recs, _ := l.Poll(context.Background(), 0)
	if !recs[0].Value.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", recs[0].Value.Timestamp, fixed)
	}
}

func TestHandleDropsWhenFull(t *testing.T) {
	l := NewListener("chat-in", 2)
	for i := 0; i < 5; i++ {
		l.Handle(chat.InboundMessage{Channel: "alerts", Text: "x"})
	}
	if l.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", l.Pending())
	}
}

func TestPollRespectsMaxAndOrder(t *testing.T) {
	l := NewListener("chat-in", 10)
	for _, text := range []string{"a", "b", "c"} {
		l.Handle(chat.InboundMessage{Channel: "alerts", Text: text})
	}
	recs, err := l.Poll(context.Background(), 2)
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if len(recs) != 2 || recs[0].Value.Message != "a" || recs[1].Value.Message != "b" {
		t.Errorf("first poll = %+v", recs)
	}
	recs, _ = l.Poll(context.Background(), 2)
	if len(recs) != 1 || recs[0].Value.Message != "c" {
		t.Errorf("second poll = %+v", recs)
	}
}

func TestPollBlocksUntilCancelled(t *testing.T) {
	l := NewListener("chat-in", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Poll(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Poll() = %v, want deadline exceeded", err)
	}
}
