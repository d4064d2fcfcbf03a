// Package event builds, records and fans out auction events.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nft_auction/internal/domain"
)

// NewEnvelope wraps data under a fresh event ID.
func NewEnvelope(kind domain.EventKind, auctionID uint64, at time.Time, data any) domain.Envelope {
	return domain.Envelope{
		ID:         uuid.NewString(),
		Kind:       kind,
		AuctionID:  auctionID,
		OccurredAt: at,
		Data:       data,
	}
}

// Encode returns the JSON form of env as sent to sinks.
func Encode(env domain.Envelope) ([]byte, error) {
	return marshal(env)
}

// ToRecord converts env into its persisted form.
func ToRecord(env domain.Envelope) (domain.EventRecord, error) {
	payload, err := marshal(env.Data)
	if err != nil {
		return domain.EventRecord{}, fmt.Errorf("encode %s payload: %w", env.Kind, err)
	}
	rec := domain.EventRecord{
		ID:         env.ID,
		Kind:       env.Kind,
		Payload:    string(payload),
		OccurredAt: env.OccurredAt,
	}
	if !env.Kind.Global() {
		id := env.AuctionID
		rec.AuctionID = &id
	}
	return rec, nil
}

// FromRecord rebuilds an envelope; Data is left as raw JSON.
func FromRecord(rec domain.EventRecord) domain.Envelope {
	env := domain.Envelope{
		ID:         rec.ID,
		Kind:       rec.Kind,
		OccurredAt: rec.OccurredAt,
		Data:       json.RawMessage(rec.Payload),
	}
	if rec.AuctionID != nil {
		env.AuctionID = *rec.AuctionID
	}
	return env
}
