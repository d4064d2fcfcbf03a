package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceFeedEntry binds an accepted payment asset to the oracle that prices it.
type PriceFeedEntry struct {
	Asset     Asset     `gorm:"primaryKey" json:"asset"`
	OracleRef string    `json:"oracle"`
	Decimals  int32     `json:"decimals"` // precision reported when the feed was set
	UpdatedBy Address   `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Quote is one oracle reading: Answer scaled by 10^Decimals.
// An answer of 10000e18 with 18 decimals means 10000 units of account.
type Quote struct {
	Answer    decimal.Decimal
	Decimals  int32
	UpdatedAt time.Time
}

// Price returns the unscaled price.
func (q Quote) Price() decimal.Decimal {
	return q.Answer.Shift(-q.Decimals)
}
