package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
)

// StaticFeed is an aggregator-style feed whose answer is set by hand.
// Answers are stored scaled by 10^decimals, like an on-chain aggregator.
type StaticFeed struct {
	mu        sync.RWMutex
	answer    decimal.Decimal
	decimals  int32
	updatedAt time.Time
	now       func() time.Time
}

// NewStaticFeed creates a feed reporting price with the given precision.
func NewStaticFeed(price decimal.Decimal, decimals int32) *StaticFeed {
	f := &StaticFeed{decimals: decimals, now: time.Now}
	f.SetPrice(price)
	return f
}

// SetPrice updates the answer to price * 10^decimals.
func (f *StaticFeed) SetPrice(price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = price.Shift(f.decimals)
	f.updatedAt = f.now()
}

// SetAnswer updates the raw scaled answer.
func (f *StaticFeed) SetAnswer(answer decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = answer
	f.updatedAt = f.now()
}

// Latest returns the current answer.
func (f *StaticFeed) Latest(ctx context.Context) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return domain.Quote{Answer: f.answer, Decimals: f.decimals, UpdatedAt: f.updatedAt}, nil
}
