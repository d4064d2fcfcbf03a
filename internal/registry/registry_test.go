package registry

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft_auction/internal/domain"
)

var (
	t0     = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	seller = domain.Address("0x5e11e7")
	item   = domain.AssetRef{Contract: "0xnft", TokenID: "7"}
	usdc   = domain.Asset("0xusdc")
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func create(t *testing.T, r *Registry, p CreateParams) domain.Auction {
	t.Helper()
	if p.Seller == "" {
		p.Seller = seller
	}
	if p.Item == (domain.AssetRef{}) {
		p.Item = item
	}
	if p.Duration == 0 {
		p.Duration = time.Hour
	}
	a, err := r.Create(p, t0)
	require.NoError(t, err)
	return a
}

func TestCreate(t *testing.T) {
	r := New()

	a := create(t, r, CreateParams{})
	assert.Equal(t, uint64(0), a.ID)
	assert.Equal(t, domain.StatusActive, a.Status)
	assert.Equal(t, t0, a.StartTime)
	assert.Equal(t, t0.Add(time.Hour), a.EndTime)

	_, err := r.Create(CreateParams{Seller: seller, Item: item, Duration: time.Hour}, t0)
	assert.ErrorIs(t, err, domain.ErrItemListed)

	b := create(t, r, CreateParams{Item: domain.AssetRef{Contract: "0xnft", TokenID: "8"}, StartTime: t0.Add(time.Minute)})
	assert.Equal(t, uint64(1), b.ID)
	assert.Equal(t, domain.StatusPending, b.Status)
}

func TestCreate_InvalidWindow(t *testing.T) {
	r := New()

	_, err := r.Create(CreateParams{Seller: seller, Item: item, Duration: 0}, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	_, err = r.Create(CreateParams{Seller: seller, Item: item, Duration: time.Hour, StartTime: t0.Add(-time.Second)}, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	_, err = r.Create(CreateParams{Seller: seller, Item: item, Duration: time.Hour, ReservePrice: dec("-1")}, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Equal(t, uint64(0), r.NextID())
}

func TestDiscard(t *testing.T) {
	r := New()
	a := create(t, r, CreateParams{})
	r.Discard(a.ID)

	_, err := r.Get(a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, uint64(0), r.NextID())

	again := create(t, r, CreateParams{})
	assert.Equal(t, uint64(0), again.ID, "item slot and ID are free again")
}

func TestRecordBid(t *testing.T) {
	r := New()
	a := create(t, r, CreateParams{ReservePrice: dec("0.1")})
	now := t0.Add(time.Minute)

	_, err := r.RecordBid(a.ID, "0xa", dec("0.000005"), domain.NativeAsset, dec("0.05"), now)
	assert.ErrorIs(t, err, domain.ErrBidTooLow, "below reserve")

	got, err := r.RecordBid(a.ID, "0xa", dec("0.000015"), domain.NativeAsset, dec("0.15"), now)
	require.NoError(t, err)
	assert.Equal(t, domain.Address("0xa"), got.HighestBidder)
	assert.Equal(t, 1, got.BidCount)

	_, err = r.RecordBid(a.ID, "0xb", dec("0.15"), usdc, dec("0.15"), now)
	assert.ErrorIs(t, err, domain.ErrBidTooLow, "ties do not replace")

	unchanged, _ := r.Get(a.ID)
	assert.Equal(t, domain.Address("0xa"), unchanged.HighestBidder)

	got, err = r.RecordBid(a.ID, "0xb", dec("0.2"), usdc, dec("0.2"), now)
	require.NoError(t, err)
	assert.Equal(t, usdc, got.HighestAsset)
	assert.True(t, got.HighestNormalized.Equal(dec("0.2")))

	_, err = r.RecordBid(a.ID, "0xc", dec("1"), usdc, dec("1"), a.EndTime)
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive, "window closed")
}

func TestRecordBid_PendingAndAccepted(t *testing.T) {
	r := New()
	a := create(t, r, CreateParams{StartTime: t0.Add(time.Hour), AcceptedAsset: domain.NativeAsset})

	_, err := r.RecordBid(a.ID, "0xa", dec("1"), domain.NativeAsset, dec("1"), t0)
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)

	_, err = r.RecordBid(a.ID, "0xa", dec("1"), usdc, dec("1"), t0.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrAssetNotAccepted)

	got, err := r.RecordBid(a.ID, "0xa", dec("1"), domain.NativeAsset, dec("1"), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status, "auto-activated on bid")
}

func TestSettlement(t *testing.T) {
	r := New()
	a := create(t, r, CreateParams{})

	_, err := r.BeginSettlement(a.ID, t0)
	assert.ErrorIs(t, err, domain.ErrNotYetEnded)

	ended, err := r.BeginSettlement(a.ID, a.EndTime)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, ended.Status)

	_, err = r.BeginSettlement(a.ID, a.EndTime)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	settled, err := r.CompleteSettlement(a.ID, a.EndTime)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, settled.Status)

	_, err = r.BeginSettlement(a.ID, a.EndTime.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	relisted := create(t, r, CreateParams{})
	assert.Equal(t, uint64(1), relisted.ID, "settled auction frees the item")
}

func TestSettlement_PendingWithoutBids(t *testing.T) {
	r := New()
	a := create(t, r, CreateParams{StartTime: t0.Add(time.Minute)})

	ended, err := r.BeginSettlement(a.ID, a.EndTime)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, ended.Status)
}

func TestCancel(t *testing.T) {
	r := New()
	a := create(t, r, CreateParams{})

	cancelled, err := r.Cancel(a.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	_, err = r.Cancel(a.ID, t0)
	assert.ErrorIs(t, err, domain.ErrAuctionNotActive)

	b := create(t, r, CreateParams{})
	_, err = r.RecordBid(b.ID, "0xa", dec("1"), domain.NativeAsset, dec("1"), t0)
	require.NoError(t, err)
	_, err = r.Cancel(b.ID, t0)
	assert.ErrorIs(t, err, domain.ErrBidsPresent)
}

func TestRestoreAndLoad(t *testing.T) {
	r := New()
	a := create(t, r, CreateParams{})
	snap, _ := r.Get(a.ID)

	_, err := r.RecordBid(a.ID, "0xa", dec("1"), domain.NativeAsset, dec("1"), t0)
	require.NoError(t, err)
	r.Restore(snap)

	got, _ := r.Get(a.ID)
	assert.False(t, got.HasBid())
	assert.Equal(t, 0, got.BidCount)

	fresh := New()
	fresh.Load(r.List())
	assert.Equal(t, uint64(1), fresh.NextID())
	_, err = fresh.Create(CreateParams{Seller: seller, Item: item, Duration: time.Hour}, t0)
	assert.ErrorIs(t, err, domain.ErrItemListed, "open auctions keep their item slot after reload")
}

func TestTransitionToActive(t *testing.T) {
	r := New()
	a := create(t, r, CreateParams{StartTime: t0.Add(time.Minute)})

	got, err := r.TransitionToActive(a.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	got, err = r.TransitionToActive(a.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	_, err = r.TransitionToActive(42, t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
