package pricing

import (
	"context"
	"errors"

	"nft_auction/internal/domain"
)

var errNonPositiveAnswer = errors.New("non-positive answer")

// Adapter reads (price, decimals) for a feed entry. It holds no state of its own.
type Adapter struct {
	dir *Directory
}

// NewAdapter creates an adapter over dir.
func NewAdapter(dir *Directory) *Adapter {
	return &Adapter{dir: dir}
}

// Read returns the latest quote of the oracle behind entry.
func (a *Adapter) Read(ctx context.Context, entry domain.PriceFeedEntry) (domain.Quote, error) {
	return a.ReadRef(ctx, entry.OracleRef)
}

// ReadRef returns the latest quote of the oracle registered under ref.
func (a *Adapter) ReadRef(ctx context.Context, ref string) (domain.Quote, error) {
	src, err := a.dir.Resolve(ref)
	if err != nil {
		return domain.Quote{}, err
	}

	q, err := src.Latest(ctx)
	if err != nil {
		return domain.Quote{}, &domain.OracleError{Ref: ref, Err: err}
	}
	if !q.Answer.IsPositive() {
		return domain.Quote{}, &domain.OracleError{Ref: ref, Err: errNonPositiveAnswer}
	}
	return q, nil
}
