package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft_auction/internal/domain"
	"nft_auction/internal/infra/oracle"
)

const usdc = domain.Asset("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")

type failingSource struct{ err error }

func (s failingSource) Latest(context.Context) (domain.Quote, error) {
	return domain.Quote{}, s.err
}

func setup(t *testing.T) (*Directory, *FeedBook, *Normalizer) {
	t.Helper()
	dir := NewDirectory()
	dir.Register("eth-usd", oracle.NewStaticFeed(decimal.NewFromInt(10000), 18))
	dir.Register("usdc-usd", oracle.NewStaticFeed(decimal.NewFromInt(1), 18))

	book := NewFeedBook()
	return dir, book, NewNormalizer(book, NewAdapter(dir))
}

func TestNormalize(t *testing.T) {
	_, book, n := setup(t)
	book.Set(domain.PriceFeedEntry{Asset: domain.NativeAsset, OracleRef: "eth-usd", Decimals: 18})
	book.Set(domain.PriceFeedEntry{Asset: usdc, OracleRef: "usdc-usd", Decimals: 18})

	native, err := n.Normalize(context.Background(), decimal.RequireFromString("0.000015"), domain.NativeAsset)
	require.NoError(t, err)
	assert.True(t, native.Equal(decimal.RequireFromString("0.15")), "got %s", native)

	token, err := n.Normalize(context.Background(), decimal.RequireFromString("0.2"), usdc)
	require.NoError(t, err)
	assert.True(t, token.Equal(decimal.RequireFromString("0.2")), "got %s", token)

	assert.True(t, token.GreaterThan(native), "normalized comparison must favour the token bid")
}

func TestNormalize_ExactForLargeValues(t *testing.T) {
	dir, book, n := setup(t)
	dir.Register("big", oracle.NewStaticFeed(decimal.RequireFromString("123456789.123456789123456789"), 27))
	book.Set(domain.PriceFeedEntry{Asset: usdc, OracleRef: "big", Decimals: 27})

	amount := decimal.RequireFromString("98765432109876543210.000000000000000001")
	got, err := n.Normalize(context.Background(), amount, usdc)
	require.NoError(t, err)

	want := amount.Mul(decimal.RequireFromString("123456789.123456789123456789"))
	assert.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestNormalize_NoFeed(t *testing.T) {
	_, _, n := setup(t)
	_, err := n.Normalize(context.Background(), decimal.NewFromInt(1), usdc)
	assert.ErrorIs(t, err, domain.ErrNoPriceFeed)
}

func TestAdapter_Errors(t *testing.T) {
	dir, book, n := setup(t)
	cause := errors.New("aggregator paused")
	dir.Register("down", failingSource{err: cause})
	book.Set(domain.PriceFeedEntry{Asset: usdc, OracleRef: "down"})

	_, err := n.Normalize(context.Background(), decimal.NewFromInt(1), usdc)
	require.ErrorIs(t, err, cause)
	assert.True(t, domain.IsRetriable(err))

	zero := oracle.NewStaticFeed(decimal.Zero, 8)
	dir.Register("zero", zero)
	_, err = NewAdapter(dir).ReadRef(context.Background(), "zero")
	var oe *domain.OracleError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "zero", oe.Ref)

	_, err = NewAdapter(dir).ReadRef(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrUnknownOracle)
}

func TestFeedBook(t *testing.T) {
	book := NewFeedBook()
	book.Set(domain.PriceFeedEntry{Asset: usdc, OracleRef: "a"})
	book.Set(domain.PriceFeedEntry{Asset: domain.NativeAsset, OracleRef: "b"})

	list := book.List()
	require.Len(t, list, 2)
	assert.Equal(t, domain.NativeAsset, list[0].Asset)

	prev, _ := book.Get(usdc)
	book.Set(domain.PriceFeedEntry{Asset: usdc, OracleRef: "c"})
	book.Restore(usdc, &prev)
	got, _ := book.Get(usdc)
	assert.Equal(t, "a", got.OracleRef)

	book.Restore(usdc, nil)
	_, ok := book.Get(usdc)
	assert.False(t, ok)

	book.Load([]domain.PriceFeedEntry{{Asset: usdc, OracleRef: "d"}})
	assert.Len(t, book.List(), 1)
}

func TestDirectory_Refs(t *testing.T) {
	dir, _, _ := setup(t)
	assert.Equal(t, []string{"eth-usd", "usdc-usd"}, dir.Refs())
}
