package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Deposit is an amount of one asset held for (or owed to) one account.
type Deposit struct {
	Depositor Address         `json:"depositor"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     Asset           `json:"asset"`
}

// IsZero reports whether the deposit carries nothing.
func (d Deposit) IsZero() bool {
	return d.Depositor == "" || !d.Amount.IsPositive()
}

// EscrowRecord is the custody state of one auction: the listed item and the
// funds of the current highest bid. Both flags false means fully released.
type EscrowRecord struct {
	AuctionID   uint64  `gorm:"primaryKey;autoIncrement:false" json:"auction_id"`
	NFTContract Address `json:"nft_contract"`
	TokenID     string  `json:"token_id"`
	HoldsItem   bool    `json:"holds_item"`

	Depositor  Address         `json:"depositor,omitempty"`
	Amount     decimal.Decimal `gorm:"type:text" json:"amount"`
	Asset      Asset           `json:"asset,omitempty"`
	HoldsFunds bool            `json:"holds_funds"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Ref returns the item held by this record.
func (r *EscrowRecord) Ref() AssetRef {
	return AssetRef{Contract: r.NFTContract, TokenID: r.TokenID}
}

// Funds returns the currently escrowed deposit (zero when none).
func (r *EscrowRecord) Funds() Deposit {
	if !r.HoldsFunds {
		return Deposit{}
	}
	return Deposit{Depositor: r.Depositor, Amount: r.Amount, Asset: r.Asset}
}

// SetFunds replaces the escrowed deposit.
func (r *EscrowRecord) SetFunds(d Deposit) {
	r.Depositor = d.Depositor
	r.Amount = d.Amount
	r.Asset = d.Asset
	r.HoldsFunds = true
}

// ClearFunds marks the funds as released.
func (r *EscrowRecord) ClearFunds() {
	r.Depositor = ""
	r.Amount = decimal.Zero
	r.Asset = ""
	r.HoldsFunds = false
}

// IsReleased reports whether nothing is held any more.
func (r *EscrowRecord) IsReleased() bool {
	return !r.HoldsItem && !r.HoldsFunds
}

// VerifyInvariant checks the record for impossible states.
// Call this after any state change to ensure data integrity.
func (r *EscrowRecord) VerifyInvariant() {
	if r.Amount.IsNegative() {
		panic(fmt.Sprintf("ESCROW_INVARIANT_NEGATIVE_AMOUNT: auction %d = %s",
			r.AuctionID, r.Amount))
	}

	if r.HoldsFunds {
		if r.Depositor == "" || r.Asset == "" || !r.Amount.IsPositive() {
			panic(fmt.Sprintf("ESCROW_INVARIANT_INCOMPLETE_FUNDS: auction %d depositor=%q asset=%q amount=%s",
				r.AuctionID, r.Depositor, r.Asset, r.Amount))
		}
	} else if !r.Amount.IsZero() {
		panic(fmt.Sprintf("ESCROW_INVARIANT_STRAY_AMOUNT: auction %d amount=%s without funds",
			r.AuctionID, r.Amount))
	}
}

// PendingRefund is a deposit escrow still owes its owner because sending it
// back failed. It stays on record until a retry pays it.
type PendingRefund struct {
	ID        string          `gorm:"primaryKey" json:"id"`
	AuctionID uint64          `gorm:"index" json:"auction_id"`
	Depositor Address         `json:"depositor"`
	Amount    decimal.Decimal `gorm:"type:text" json:"amount"`
	Asset     Asset           `json:"asset"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}

// Deposit returns what is owed.
func (p PendingRefund) Deposit() Deposit {
	return Deposit{Depositor: p.Depositor, Amount: p.Amount, Asset: p.Asset}
}
