package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft_auction/internal/domain"
	"nft_auction/internal/engine"
	"nft_auction/internal/escrow"
	"nft_auction/internal/event"
	"nft_auction/internal/infra/oracle"
	"nft_auction/internal/infra/sim"
	"nft_auction/internal/infra/storage"
	"nft_auction/internal/pricing"
	"nft_auction/internal/registry"
	"nft_auction/internal/service"
)

const (
	operator = "0x00000000000000000000000000000000000000a1"
	seller   = "0x00000000000000000000000000000000005e11e7"
	bidder   = "0x0000000000000000000000000000000000000b0b"
	escrowAt = "0x00000000000000000000000000000000000e5c20"
	contract = "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d"
)

type testServer struct {
	router *httptest.Server
	tokens *sim.Tokens
	items  *sim.Items
	now    atomic.Int64 // unix nanos
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		tokens: sim.NewTokens(escrowAt),
		items:  sim.NewItems(escrowAt),
	}
	ts.now.Store(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	clock := func() time.Time { return time.Unix(0, ts.now.Load()).UTC() }

	dir := pricing.NewDirectory()
	dir.Register("eth-usd", oracle.NewStaticFeed(decimal.NewFromInt(10000), 8))
	feeds := pricing.NewFeedBook()
	adapter := pricing.NewAdapter(dir)

	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	seq := engine.NewSequencer(engine.Config{Shards: 2, DumpPath: filepath.Join(t.TempDir(), "dump.json")}, func() any { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	go seq.Run(ctx)
	t.Cleanup(cancel)

	svc := service.NewAuctionService(service.Deps{
		Registry:   registry.New(),
		Ledger:     escrow.NewLedger(ts.tokens, ts.items, clock),
		Feeds:      feeds,
		Adapter:    adapter,
		Normalizer: pricing.NewNormalizer(feeds, adapter),
		Sequencer:  seq,
		Store:      store,
		Events:     event.NewDispatcher(nil),
		Clock:      clock,
		Operator:   domain.NewAddress(operator),
	})

	h := NewHandler(svc, Options{Events: store, Chain: &Chain{Tokens: ts.tokens, Items: ts.items}})
	ts.router = httptest.NewServer(h.SetupRoutes())
	t.Cleanup(ts.router.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, account string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.router.URL+path, &buf)
	require.NoError(t, err)
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) list(t *testing.T) {
	t.Helper()
	ref := domain.AssetRef{Contract: contract, TokenID: "1"}
	ts.items.Mint(ref, seller)
	ts.items.Approve(ref, true)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/auctions", seller, map[string]any{
		"nft_contract": contract,
		"token_id":     "1",
		"duration_sec": 3600,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	require.Equal(t, float64(0), body["auction_id"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestAuctionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.list(t)

	// missing identity
	resp, _ := ts.do(t, http.MethodPost, "/api/v1/auctions/0/bids", "", map[string]any{"amount": "0.1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// no feed yet
	ts.tokens.Mint(domain.NativeAsset, bidder, decimal.NewFromInt(1))
	bid := map[string]any{"amount": "0.0001", "asset": string(domain.NativeAsset), "value": "0.0001"}
	resp, body := ts.do(t, http.MethodPost, "/api/v1/auctions/0/bids", bidder, bid)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, false, body["retriable"])

	resp, _ = ts.do(t, http.MethodPut, "/api/v1/feeds/"+string(domain.NativeAsset), bidder, map[string]any{"oracle": "eth-usd"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPut, "/api/v1/feeds/"+string(domain.NativeAsset), operator, map[string]any{"oracle": "eth-usd"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, float64(8), body["decimals"])

	resp, body = ts.do(t, http.MethodPost, "/api/v1/auctions/0/bids", bidder, bid)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, bidder, body["highest_bidder"])
	assert.Equal(t, "1", body["highest_normalized"])

	// tie
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/auctions/0/bids", bidder, bid)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/v1/auctions/0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	esc := body["escrow"].(map[string]any)
	assert.Equal(t, true, esc["holds_funds"])
	assert.Equal(t, bidder, esc["depositor"])

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/auctions/0/end", bidder, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "not yet ended")

	ts.now.Add(int64(time.Hour))
	resp, body = ts.do(t, http.MethodPost, "/api/v1/auctions/0/end", bidder, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	auction := body["auction"].(map[string]any)
	assert.Equal(t, string(domain.StatusSettled), auction["status"])

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/auctions/0/end", bidder, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.router.URL+"/api/v1/auctions/0/events", nil)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	var events []domain.Envelope
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&events))
	kinds := make([]domain.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []domain.EventKind{domain.KindAuctionCreated, domain.KindBidPlaced, domain.KindAuctionEnded}, kinds)
}

func TestCancelAndNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.list(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/auctions/0/cancel", bidder, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/auctions/0/cancel", seller, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/auctions/9", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/auctions", seller, map[string]any{
		"nft_contract": contract, "token_id": "1", "duration_sec": 0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewAuctionError("placeBid", 1, "", domain.ErrBidTooLow), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrHalted, http.StatusServiceUnavailable},
		{domain.NewAuctionError("endAuction", 1, "", &domain.CustodyError{Op: "transfer_out", Err: errors.New("paused")}), http.StatusBadGateway},
		{&domain.OracleError{Ref: "eth-usd", Err: errors.New("timeout")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestSimApprovals(t *testing.T) {
	ts := newTestServer(t)
	ref := domain.AssetRef{Contract: contract, TokenID: "7"}
	ts.items.Mint(ref, seller)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/sim/approvals/items", bidder, map[string]any{"contract": contract, "token_id": "7"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/sim/approvals/items", seller, map[string]any{"contract": contract, "token_id": "7"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/auctions", seller, map[string]any{
		"nft_contract": contract, "token_id": "7", "duration_sec": 60,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	usdc := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/sim/approvals/tokens", bidder, map[string]any{"asset": usdc, "amount": "5"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	allowance, err := ts.tokens.Allowance(context.Background(), domain.Asset(usdc), bidder)
	require.NoError(t, err)
	assert.Equal(t, "5", allowance.String())

	ts.tokens.Mint(domain.NativeAsset, bidder, decimal.RequireFromString("2.5"))
	resp, body = ts.do(t, http.MethodGet, "/api/v1/sim/balance", bidder, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2.5", body["balance"])
}

func TestRefunds(t *testing.T) {
	ts := newTestServer(t)

	raw, err := http.Get(ts.router.URL + "/api/v1/refunds")
	require.NoError(t, err)
	defer raw.Body.Close()
	require.Equal(t, http.StatusOK, raw.StatusCode)
	var pending []domain.PendingRefund
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&pending))
	assert.Empty(t, pending)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/refunds/retry", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["paid"])
}
