package pricing

import (
	"sort"
	"sync"

	"nft_auction/internal/domain"
)

// FeedBook maps accepted assets to their price feed entries.
type FeedBook struct {
	mu      sync.RWMutex
	entries map[domain.Asset]domain.PriceFeedEntry
}

// NewFeedBook creates an empty feed book.
func NewFeedBook() *FeedBook {
	return &FeedBook{entries: make(map[domain.Asset]domain.PriceFeedEntry)}
}

// Set installs or replaces the entry for entry.Asset.
func (b *FeedBook) Set(entry domain.PriceFeedEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.Asset] = entry
}

// Get returns the entry for asset.
func (b *FeedBook) Get(asset domain.Asset) (domain.PriceFeedEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[asset]
	return e, ok
}

// Restore puts back a previous entry, or removes the asset when prev is nil.
func (b *FeedBook) Restore(asset domain.Asset, prev *domain.PriceFeedEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev == nil {
		delete(b.entries, asset)
		return
	}
	b.entries[asset] = *prev
}

// Load replaces the book with persisted entries.
func (b *FeedBook) Load(entries []domain.PriceFeedEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[domain.Asset]domain.PriceFeedEntry, len(entries))
	for _, e := range entries {
		b.entries[e.Asset] = e
	}
}

// List returns all entries sorted by asset.
func (b *FeedBook) List() []domain.PriceFeedEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.PriceFeedEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}
