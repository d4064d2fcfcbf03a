package pricing

import (
	"fmt"
	"sort"
	"sync"

	"nft_auction/internal/domain"
)

// Directory resolves oracle references to price sources.
// Sources are registered once at bootstrap; a feed can only point at a
// registered reference.
type Directory struct {
	mu      sync.RWMutex
	sources map[string]domain.PriceSource
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{sources: make(map[string]domain.PriceSource)}
}

// Register adds or replaces the source behind ref.
func (d *Directory) Register(ref string, src domain.PriceSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[ref] = src
}

// Resolve returns the source registered under ref.
func (d *Directory) Resolve(ref string) (domain.PriceSource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	src, ok := d.sources[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownOracle, ref)
	}
	return src, nil
}

// Refs lists registered references in order.
func (d *Directory) Refs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	refs := make([]string, 0, len(d.sources))
	for ref := range d.sources {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
