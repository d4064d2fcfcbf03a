package event

import (
	"context"
	"log/slog"
	"sync"

	"nft_auction/internal/domain"
)

// Dispatcher fans committed events out to sinks. Sink failures are logged
// and never reach the operation that produced the event.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  []namedSink
	logger *slog.Logger
}

type namedSink struct {
	name string
	sink domain.EventSink
}

// NewDispatcher creates a dispatcher with no sinks.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger.With(slog.String("module", "event"))}
}

// Add registers a sink.
func (d *Dispatcher) Add(name string, sink domain.EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, namedSink{name: name, sink: sink})
}

// Dispatch publishes envs to every sink, in order.
func (d *Dispatcher) Dispatch(ctx context.Context, envs ...domain.Envelope) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, env := range envs {
		for _, s := range sinks {
			if err := s.sink.Publish(ctx, env); err != nil {
				d.logger.Warn("Event publish failed",
					slog.String("sink", s.name),
					slog.String("kind", string(env.Kind)),
					slog.String("event_id", env.ID),
					slog.Any("error", err),
				)
			}
		}
	}
}
