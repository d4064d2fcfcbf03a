package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
)

// Normalizer converts raw bid amounts into the common unit of account.
type Normalizer struct {
	feeds   *FeedBook
	adapter *Adapter
}

// NewNormalizer creates a normalizer reading feeds from book.
func NewNormalizer(book *FeedBook, adapter *Adapter) *Normalizer {
	return &Normalizer{feeds: book, adapter: adapter}
}

// Normalize returns amount * answer / 10^decimals for the asset's oracle.
// The result is exact; nothing is truncated.
func (n *Normalizer) Normalize(ctx context.Context, amount decimal.Decimal, asset domain.Asset) (decimal.Decimal, error) {
	entry, ok := n.feeds.Get(asset)
	if !ok {
		return decimal.Zero, domain.ErrNoPriceFeed
	}

	q, err := n.adapter.Read(ctx, entry)
	if err != nil {
		return decimal.Zero, err
	}

	return amount.Mul(q.Answer).Shift(-q.Decimals), nil
}
