package domain

import (
	"time"
)

// EventRecord is the persisted form of an Envelope. AuctionID is nil for
// global events, so they never show up in an auction's history.
type EventRecord struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Kind       EventKind `gorm:"index" json:"kind"`
	AuctionID  *uint64   `gorm:"index" json:"auction_id,omitempty"`
	Payload    string    `json:"payload"` // JSON of Envelope.Data
	OccurredAt time.Time `gorm:"index" json:"occurred_at"`
}

// StateChange is everything one operation writes in a single transaction.
// Retract lists event IDs to delete when an aborted operation is rewritten;
// Paid lists pending refunds that have been settled.
type StateChange struct {
	Auctions []Auction
	Escrows  []EscrowRecord
	Feeds    []PriceFeedEntry
	Refunds  []PendingRefund
	Events   []EventRecord
	Retract  []string
	Paid     []string
}

// IsEmpty reports whether there is nothing to write.
func (c StateChange) IsEmpty() bool {
	return len(c.Auctions) == 0 && len(c.Escrows) == 0 && len(c.Feeds) == 0 &&
		len(c.Refunds) == 0 && len(c.Events) == 0 && len(c.Retract) == 0 && len(c.Paid) == 0
}

// Snapshot is the full durable state, as loaded on startup.
type Snapshot struct {
	Auctions []Auction
	Escrows  []EscrowRecord
	Feeds    []PriceFeedEntry
	Refunds  []PendingRefund
}
