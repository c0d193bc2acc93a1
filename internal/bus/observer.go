package bus

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/counselhq/counsel/internal/engine"
)

// publishTimeout caps how long one XAdd may take before the worker moves
// on to the next event.
const publishTimeout = 2 * time.Second

// Publisher forwards engine events onto the bus. It satisfies the
// observer contract by never blocking the engine: events are queued on a
// buffered channel and a single worker drains them. When the queue is
// full the event is dropped and counted, which a delta-heavy stream can
// afford.
type Publisher struct {
	bus     Bus
	logger  *log.Logger
	ch      chan engine.Event
	done    chan struct{}
	dropped atomic.Uint64
}

// NewPublisher starts the forwarding worker. Call Close to flush and
// stop it.
func NewPublisher(b Bus, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.New(os.Stderr, "[bus] ", log.LstdFlags)
	}
	p := &Publisher{
		bus:    b,
		logger: logger,
		ch:     make(chan engine.Event, 256),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// OnEvent queues ev for publication. Called synchronously by the engine.
func (p *Publisher) OnEvent(ev engine.Event) {
	select {
	case p.ch <- ev:
	default:
		n := p.dropped.Add(1)
		p.logger.Printf("Event queue full, dropped %s event (%d dropped so far)", ev.Kind, n)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops the worker after the queued events have been published.
func (p *Publisher) Close() error {
	close(p.ch)
	<-p.done
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)

	for ev := range p.ch {
		raw, err := json.Marshal(ev)
		if err != nil {
			p.logger.Printf("Failed to marshal %s event: %v", ev.Kind, err)
			continue
		}

		msg := EventMessage{
			EventID:   uuid.NewString(),
			Kind:      string(ev.Kind),
			Context:   ev.Context.String(),
			RawJSON:   string(raw),
			Timestamp: ev.At.Unix(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.bus.PublishEvent(ctx, msg); err != nil {
			p.logger.Printf("Failed to publish %s event: %v", ev.Kind, err)
		}
		cancel()
	}
}
