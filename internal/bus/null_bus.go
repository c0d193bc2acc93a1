package bus

import (
	"context"
	"log"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *log.Logger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *log.Logger) *NullBus {
	if logger == nil {
		logger = log.New(log.Writer(), "[NullBus] ", log.LstdFlags)
	}

	return &NullBus{
		logger: logger,
	}
}

// Close is a no-op for null bus
func (nb *NullBus) Close() error {
	return nil
}

// PublishEvent drops the event since there is nothing to publish to
func (nb *NullBus) PublishEvent(ctx context.Context, eventMsg EventMessage) error {
	return nil
}

// ReadEventsStream is a no-op for null bus (blocks until cancelled)
func (nb *NullBus) ReadEventsStream(ctx context.Context, group, consumer string, handler func(ctx context.Context, event EventMessage) error) error {
	nb.logger.Printf("Would read chat-events stream %s:%s (Redis disabled)", group, consumer)
	// Block until context is cancelled since this would normally be a blocking operation
	<-ctx.Done()
	return ctx.Err()
}

// GetStats returns empty stats for null bus
func (nb *NullBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null bus
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}
