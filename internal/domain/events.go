package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names an observable state change.
type EventKind string

const (
	KindAuctionCreated   EventKind = "AuctionCreated"
	KindBidPlaced        EventKind = "BidPlaced"
	KindAuctionEnded     EventKind = "AuctionEnded"
	KindAuctionCancelled EventKind = "AuctionCancelled"
	KindPriceFeedSet     EventKind = "PriceFeedSet"
)

// Global reports whether the event belongs to no auction.
func (k EventKind) Global() bool {
	return k == KindPriceFeedSet
}

// Envelope wraps an event payload for the log and the sinks.
type Envelope struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	AuctionID  uint64    `json:"auction_id"` // zero for global kinds
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type AuctionCreated struct {
	AuctionID    uint64          `json:"auction_id"`
	Seller       Address         `json:"seller"`
	NFTContract  Address         `json:"nft_contract"`
	TokenID      string          `json:"token_id"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
}

type BidPlaced struct {
	AuctionID       uint64          `json:"auction_id"`
	Bidder          Address         `json:"bidder"`
	NormalizedValue decimal.Decimal `json:"normalized_value"`
	RawAmount       decimal.Decimal `json:"raw_amount"`
	Asset           Asset           `json:"asset"`
}

// AuctionEnded has an empty Winner when the item went back to the seller.
type AuctionEnded struct {
	AuctionID  uint64          `json:"auction_id"`
	Winner     Address         `json:"winner,omitempty"`
	HighestBid decimal.Decimal `json:"highest_bid"`
	Asset      Asset           `json:"asset,omitempty"`
}

type AuctionCancelled struct {
	AuctionID uint64  `json:"auction_id"`
	Seller    Address `json:"seller"`
	By        Address `json:"by"`
}

type PriceFeedSet struct {
	Asset     Asset   `json:"asset"`
	Oracle    string  `json:"oracle"`
	Decimals  int32   `json:"decimals"`
	UpdatedBy Address `json:"updated_by"`
}
