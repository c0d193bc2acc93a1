package bus

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/counselhq/counsel/internal/chat"
	"github.com/counselhq/counsel/internal/engine"
)

// captureBus records published messages in memory.
type captureBus struct {
	mu   sync.Mutex
	msgs []EventMessage
}

func (c *captureBus) PublishEvent(ctx context.Context, msg EventMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureBus) ReadEventsStream(ctx context.Context, group, consumer string, handler func(ctx context.Context, event EventMessage) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *captureBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return nil, nil
}

func (c *captureBus) HealthCheck(ctx context.Context) error { return nil }
func (c *captureBus) Close() error                          { return nil }

func (c *captureBus) published() []EventMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func TestPublisherForwardsEvents(t *testing.T) {
	sink := &captureBus{}
	p := NewPublisher(sink, log.New(io.Discard, "", 0))

	ev := engine.Event{
		Kind:     engine.EventDelta,
		Context:  chat.GlobalContext,
		StreamID: "stream-1",
		Delta:    "hello",
		At:       time.Unix(1_700_000_000, 0),
	}
	p.OnEvent(ev)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	msgs := sink.published()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}
	got := msgs[0]
	if got.Kind != string(engine.EventDelta) {
		t.Errorf("kind = %q, want %q", got.Kind, engine.EventDelta)
	}
	if got.Context != "global" {
		t.Errorf("context = %q, want global", got.Context)
	}
	if got.Timestamp != 1_700_000_000 {
		t.Errorf("timestamp = %d, want 1700000000", got.Timestamp)
	}
	if got.EventID == "" {
		t.Error("expected a generated event id")
	}

	var round engine.Event
	if err := json.Unmarshal([]byte(got.RawJSON), &round); err != nil {
		t.Fatalf("raw_json does not unmarshal: %v", err)
	}
	if round.Delta != "hello" || round.StreamID != "stream-1" {
		t.Errorf("round-tripped event = %+v", round)
	}
}

func TestPublisherCloseFlushesQueue(t *testing.T) {
	sink := &captureBus{}
	p := NewPublisher(sink, log.New(io.Discard, "", 0))

	for i := 0; i < 20; i++ {
		p.OnEvent(engine.Event{Kind: engine.EventDelta, Context: chat.GlobalContext, Delta: "x"})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := len(sink.published()); got != 20 {
		t.Errorf("published %d messages, want 20", got)
	}
	if p.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", p.Dropped())
	}
}

func TestNewBusFallsBackToNull(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	b := NewBus("", logger)
	if _, ok := b.(*NullBus); !ok {
		t.Fatalf("expected NullBus for empty URL, got %T", b)
	}

	// An unreachable Redis falls back rather than failing startup.
	b = NewBus("redis://127.0.0.1:1/0", logger)
	if _, ok := b.(*NullBus); !ok {
		t.Fatalf("expected NullBus fallback for unreachable Redis, got %T", b)
	}

	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("null bus health check: %v", err)
	}
	if err := b.PublishEvent(context.Background(), EventMessage{EventID: "e1"}); err != nil {
		t.Errorf("null bus publish: %v", err)
	}
	stats, err := b.GetStats(context.Background())
	if err != nil {
		t.Fatalf("null bus stats: %v", err)
	}
	if stats["type"] != "null" {
		t.Errorf("stats type = %v, want null", stats["type"])
	}
}

func TestParseTimestamp(t *testing.T) {
	if ts, err := parseTimestamp("1700000000"); err != nil || ts != 1_700_000_000 {
		t.Errorf("seconds: ts=%d err=%v", ts, err)
	}
	if ts, err := parseTimestamp("1700000000000"); err != nil || ts != 1_700_000_000 {
		t.Errorf("milliseconds: ts=%d err=%v", ts, err)
	}
	if ts, err := parseTimestamp("2023-11-14T22:13:20Z"); err != nil || ts != 1_700_000_000 {
		t.Errorf("rfc3339: ts=%d err=%v", ts, err)
	}
	if _, err := parseTimestamp("not a time"); err == nil {
		t.Error("expected error for garbage timestamp")
	}
}
