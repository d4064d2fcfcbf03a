package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	StatusPending   AuctionStatus = "PENDING"
	StatusActive    AuctionStatus = "ACTIVE"
	StatusEnded     AuctionStatus = "ENDED" // settlement in flight
	StatusSettled   AuctionStatus = "SETTLED"
	StatusCancelled AuctionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s AuctionStatus) IsTerminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// transitions lists the forward-only edges of the state machine.
var transitions = map[AuctionStatus][]AuctionStatus{
	StatusPending: {StatusActive, StatusEnded, StatusCancelled},
	StatusActive:  {StatusEnded, StatusCancelled},
	StatusEnded:   {StatusSettled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to AuctionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Auction is one timed, single-item auction.
// Bid fields hold the current highest bid; they are zero until the first bid.
type Auction struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement:false" json:"auction_id"`
	Seller        Address         `gorm:"index" json:"seller"`
	NFTContract   Address         `gorm:"index:idx_auction_item" json:"nft_contract"`
	TokenID       string          `gorm:"index:idx_auction_item" json:"token_id"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	ReservePrice  decimal.Decimal `gorm:"type:text" json:"reserve_price"`
	AcceptedAsset Asset           `json:"accepted_asset,omitempty"` // empty: any asset with a feed
	Status        AuctionStatus   `gorm:"index" json:"status"`

	HighestNormalized decimal.Decimal `gorm:"type:text" json:"highest_normalized"`
	HighestBidder     Address         `json:"highest_bidder,omitempty"`
	HighestAmount     decimal.Decimal `gorm:"type:text" json:"highest_amount"`
	HighestAsset      Asset           `json:"highest_asset,omitempty"`
	BidCount          int             `json:"bid_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ref returns the auctioned item.
func (a *Auction) Ref() AssetRef {
	return AssetRef{Contract: a.NFTContract, TokenID: a.TokenID}
}

// HasBid reports whether a highest bidder is recorded.
func (a *Auction) HasBid() bool {
	return a.HighestBidder != ""
}

// IsOpen reports whether the auction still holds its item slot
// (one open auction per item at a time).
func (a *Auction) IsOpen() bool {
	return a.Status == StatusPending || a.Status == StatusActive || a.Status == StatusEnded
}

// EffectiveStatus returns the status as observed at now:
// a PENDING auction whose start time has passed reads as ACTIVE.
func (a *Auction) EffectiveStatus(now time.Time) AuctionStatus {
	if a.Status == StatusPending && !now.Before(a.StartTime) {
		return StatusActive
	}
	return a.Status
}

// Accepts reports whether bids may be placed in asset.
func (a *Auction) Accepts(asset Asset) bool {
	return a.AcceptedAsset == "" || a.AcceptedAsset == asset
}

// HasEnded reports whether the bidding window is closed at now.
func (a *Auction) HasEnded(now time.Time) bool {
	return !now.Before(a.EndTime)
}
