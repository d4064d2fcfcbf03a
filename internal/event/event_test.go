package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft_auction/internal/domain"
)

type failingSink struct{ calls int }

func (s *failingSink) Publish(context.Context, domain.Envelope) error {
	s.calls++
	return errors.New("broker down")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	env := NewEnvelope(domain.KindBidPlaced, 3, at, domain.BidPlaced{
		AuctionID:       3,
		Bidder:          "0xb0b",
		NormalizedValue: decimal.RequireFromString("0.2"),
		RawAmount:       decimal.RequireFromString("0.2"),
		Asset:           "0xusdc",
	})
	_, err := uuid.Parse(env.ID)
	require.NoError(t, err)

	rec, err := ToRecord(env)
	require.NoError(t, err)
	assert.Equal(t, env.ID, rec.ID)
	assert.JSONEq(t, `{"auction_id":3,"bidder":"0xb0b","normalized_value":"0.2","raw_amount":"0.2","asset":"0xusdc"}`, rec.Payload)

	require.NotNil(t, rec.AuctionID)
	assert.Equal(t, uint64(3), *rec.AuctionID)

	back := FromRecord(rec)
	assert.Equal(t, domain.KindBidPlaced, back.Kind)
	assert.Equal(t, uint64(3), back.AuctionID)

	raw, err := Encode(back)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "BidPlaced", decoded["kind"])
	assert.NotContains(t, string(raw), "\n")
}

func TestToRecord_GlobalEventHasNoAuction(t *testing.T) {
	env := NewEnvelope(domain.KindPriceFeedSet, 0, time.Now(), domain.PriceFeedSet{Asset: domain.NativeAsset, Oracle: "eth-usd"})
	rec, err := ToRecord(env)
	require.NoError(t, err)
	assert.Nil(t, rec.AuctionID)
	assert.Equal(t, uint64(0), FromRecord(rec).AuctionID)

	created, err := ToRecord(NewEnvelope(domain.KindAuctionCreated, 0, time.Now(), nil))
	require.NoError(t, err)
	require.NotNil(t, created.AuctionID, "auction 0 is a real auction")
	assert.Equal(t, uint64(0), *created.AuctionID)
}

func TestDispatcher(t *testing.T) {
	d := NewDispatcher(nil)
	rec := NewRecorder(2)
	bad := &failingSink{}
	d.Add("bad", bad)
	d.Add("recorder", rec)

	now := time.Now()
	d.Dispatch(context.Background(),
		NewEnvelope(domain.KindAuctionCreated, 0, now, nil),
		NewEnvelope(domain.KindBidPlaced, 0, now, nil),
		NewEnvelope(domain.KindAuctionEnded, 0, now, nil),
	)

	assert.Equal(t, 3, bad.calls, "a failing sink does not stop the others")
	assert.Equal(t, []domain.EventKind{domain.KindBidPlaced, domain.KindAuctionEnded}, rec.Kinds())
	assert.Len(t, rec.Events(), 2)
}
