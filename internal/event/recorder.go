package event

import (
	"context"
	"sync"

	"nft_auction/internal/domain"
)

// Recorder is an in-memory sink keeping the most recent events.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []domain.Envelope
}

// NewRecorder keeps up to limit events (0 = unbounded).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Publish(_ context.Context, env domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Envelope(nil), r.events...)
}

// Kinds returns the kinds of the recorded events, in order.
func (r *Recorder) Kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
