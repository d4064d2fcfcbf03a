package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
)

const userAgent = "nft-auction-oracle/1.0"

// priceResponse is the body served by a price endpoint:
// {"price": "10000.25", "updated_at": "2026-01-01T00:00:00Z"}.
// updated_at is optional; the fetch time is used when absent.
type priceResponse struct {
	Price     decimal.Decimal `json:"price"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// HTTPFeed polls a price endpoint and serves the last good answer.
type HTTPFeed struct {
	ref          string
	url          string
	decimals     int32
	pollInterval time.Duration
	maxAge       time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.RWMutex
	quote   domain.Quote
	fetched bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// HTTPFeedConfig configures an HTTPFeed.
type HTTPFeedConfig struct {
	Ref          string
	URL          string
	Decimals     int32
	PollInterval time.Duration
	MaxAge       time.Duration // 0 disables the staleness check
}

// NewHTTPFeed creates a feed; call Start to begin polling.
func NewHTTPFeed(cfg HTTPFeedConfig) *HTTPFeed {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 60 * time.Second
	}
	return &HTTPFeed{
		ref:          cfg.Ref,
		url:          cfg.URL,
		decimals:     cfg.Decimals,
		pollInterval: poll,
		maxAge:       cfg.MaxAge,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default().With(slog.String("module", "oracle"), slog.String("ref", cfg.Ref)),
		now:    time.Now,
	}
}

// Start fetches once and then polls until ctx is done or Stop is called.
func (f *HTTPFeed) Start(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)

	if err := f.fetch(ctx); err != nil {
		f.logger.Warn("Initial price fetch failed", slog.Any("error", err))
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error("Price polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				f.logger.Info("Price polling stopped")
				return
			case <-ticker.C:
				if err := f.fetch(ctx); err != nil {
					f.logger.Warn("Price fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// Stop stops the polling.
func (f *HTTPFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
		f.wg.Wait()
	}
}

// Latest returns the last fetched answer. It fails if nothing was fetched yet
// or the answer is older than the configured max age.
func (f *HTTPFeed) Latest(ctx context.Context) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}

	f.mu.RLock()
	q, ok := f.quote, f.fetched
	f.mu.RUnlock()

	if !ok {
		return domain.Quote{}, fmt.Errorf("%w: no answer fetched yet", domain.ErrStaleQuote)
	}
	if f.maxAge > 0 && f.now().Sub(q.UpdatedAt) > f.maxAge {
		return domain.Quote{}, fmt.Errorf("%w: updated %s", domain.ErrStaleQuote, q.UpdatedAt.Format(time.RFC3339))
	}
	return q, nil
}

// fetch retries up to 3 times with exponential backoff.
func (f *HTTPFeed) fetch(ctx context.Context) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			// 1s, 2s
			delay := time.Duration(1<<uint(i-1)) * time.Second
			f.logger.Info("Retrying price fetch", slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := f.doFetch(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return err
		}
		f.logger.Warn("Price fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}

func (f *HTTPFeed) doFetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return domain.NewFatalNetworkError("request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return domain.NewNetworkError("fetch", statusErr)
		}
		return domain.NewFatalNetworkError("fetch", statusErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("read", err)
	}

	var data priceResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.NewFatalNetworkError("decode", err)
	}
	if !data.Price.IsPositive() {
		return domain.NewFatalNetworkError("decode", fmt.Errorf("non-positive price %s", data.Price))
	}

	updated := f.now()
	if data.UpdatedAt != nil {
		updated = *data.UpdatedAt
	}

	q := domain.Quote{Answer: data.Price.Shift(f.decimals), Decimals: f.decimals, UpdatedAt: updated}

	f.mu.Lock()
	old := f.quote
	f.quote = q
	f.fetched = true
	f.mu.Unlock()

	if !old.Answer.Equal(q.Answer) {
		f.logger.Info("Price updated",
			slog.String("price", data.Price.String()),
			slog.String("old_answer", old.Answer.String()),
		)
	}
	return nil
}
