package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft_auction/internal/domain"
)

func TestStaticFeed(t *testing.T) {
	f := NewStaticFeed(decimal.NewFromInt(10000), 18)

	q, err := f.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, q.Answer.Equal(decimal.RequireFromString("10000000000000000000000")))
	assert.Equal(t, int32(18), q.Decimals)
	assert.True(t, q.Price().Equal(decimal.NewFromInt(10000)))

	f.SetPrice(decimal.RequireFromString("1.5"))
	q, err = f.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, q.Price().Equal(decimal.RequireFromString("1.5")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Latest(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPFeed_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"price":"10000.5"}`))
	}))
	defer server.Close()

	feed := NewHTTPFeed(HTTPFeedConfig{Ref: "eth-usd", URL: server.URL, Decimals: 8})

	_, err := feed.Latest(context.Background())
	require.ErrorIs(t, err, domain.ErrStaleQuote, "no answer before first fetch")

	require.NoError(t, feed.fetch(context.Background()))

	q, err := feed.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, q.Answer.Equal(decimal.NewFromInt(1000050000000)), "got %s", q.Answer)
	assert.Equal(t, int32(8), q.Decimals)
}

func TestHTTPFeed_MaxAge(t *testing.T) {
	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"1","updated_at":"2026-03-01T10:00:00Z"}`))
	}))
	defer server.Close()

	feed := NewHTTPFeed(HTTPFeedConfig{Ref: "usdc-usd", URL: server.URL, Decimals: 18, MaxAge: time.Minute})
	now := updated.Add(30 * time.Second)
	feed.now = func() time.Time { return now }

	require.NoError(t, feed.fetch(context.Background()))
	_, err := feed.Latest(context.Background())
	require.NoError(t, err)

	now = updated.Add(2 * time.Minute)
	_, err = feed.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrStaleQuote)
}

func TestHTTPFeed_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	feed := NewHTTPFeed(HTTPFeedConfig{Ref: "x", URL: server.URL, Decimals: 18})
	err := feed.fetch(context.Background())

	require.Error(t, err)
	assert.False(t, domain.IsRetriable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFeed_RejectsNonPositivePrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"0"}`))
	}))
	defer server.Close()

	feed := NewHTTPFeed(HTTPFeedConfig{Ref: "x", URL: server.URL, Decimals: 18})
	require.Error(t, feed.fetch(context.Background()))

	_, err := feed.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrStaleQuote)
}

func TestHTTPFeed_StartStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":2}`))
	}))
	defer server.Close()

	feed := NewHTTPFeed(HTTPFeedConfig{Ref: "x", URL: server.URL, Decimals: 2, PollInterval: 10 * time.Millisecond})
	require.NoError(t, feed.Start(context.Background()))
	defer feed.Stop()

	q, err := feed.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, q.Answer.Equal(decimal.NewFromInt(200)))
}
