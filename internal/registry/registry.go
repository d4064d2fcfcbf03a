// Package registry owns the auction records and their state machine.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
)

// Registry is the arena of auctions, keyed by a monotonically assigned ID.
// Callers always receive copies.
type Registry struct {
	mu       sync.RWMutex
	auctions map[uint64]*domain.Auction
	byItem   map[string]uint64 // open auction per item
	nextID   uint64
}

// New creates an empty registry. The first auction gets ID 0.
func New() *Registry {
	return &Registry{
		auctions: make(map[uint64]*domain.Auction),
		byItem:   make(map[string]uint64),
	}
}

// CreateParams describes a new auction. A zero StartTime means now.
type CreateParams struct {
	Seller        domain.Address
	Item          domain.AssetRef
	StartTime     time.Time
	Duration      time.Duration
	ReservePrice  decimal.Decimal
	AcceptedAsset domain.Asset
}

// Create reserves an ID and records a new auction.
func (r *Registry) Create(p CreateParams, now time.Time) (domain.Auction, error) {
	start := p.StartTime
	if start.IsZero() {
		start = now
	}
	if p.Duration <= 0 || start.Before(now) {
		return domain.Auction{}, domain.ErrInvalidWindow
	}
	if p.ReservePrice.IsNegative() {
		return domain.Auction{}, domain.ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := p.Item.Key()
	if id, ok := r.byItem[key]; ok {
		return domain.Auction{}, fmt.Errorf("%w: auction %d", domain.ErrItemListed, id)
	}

	status := domain.StatusActive
	if start.After(now) {
		status = domain.StatusPending
	}

	a := &domain.Auction{
		ID:                r.nextID,
		Seller:            p.Seller,
		NFTContract:       p.Item.Contract,
		TokenID:           p.Item.TokenID,
		StartTime:         start,
		EndTime:           start.Add(p.Duration),
		ReservePrice:      p.ReservePrice,
		AcceptedAsset:     p.AcceptedAsset,
		Status:            status,
		HighestNormalized: decimal.Zero,
		HighestAmount:     decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.auctions[a.ID] = a
	r.byItem[key] = a.ID
	r.nextID++

	return *a, nil
}

// Discard forgets an auction whose creation was aborted. The ID is handed
// out again only if nothing was created after it.
func (r *Registry) Discard(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return
	}
	if cur, ok := r.byItem[a.Ref().Key()]; ok && cur == id {
		delete(r.byItem, a.Ref().Key())
	}
	delete(r.auctions, id)
	if id+1 == r.nextID {
		r.nextID--
	}
}

// Get returns a copy of the auction.
func (r *Registry) Get(id uint64) (domain.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return *a, nil
}

// TransitionToActive activates a PENDING auction whose start time has come.
func (r *Registry) TransitionToActive(id uint64, now time.Time) (domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	r.activate(a, now)
	return *a, nil
}

func (r *Registry) activate(a *domain.Auction, now time.Time) {
	if a.EffectiveStatus(now) != a.Status {
		r.transition(a, domain.StatusActive, now)
	}
}

// RecordBid applies an accepted bid. The bid must beat the reserve and
// strictly beat the current highest normalized value.
func (r *Registry) RecordBid(id uint64, bidder domain.Address, amount decimal.Decimal, asset domain.Asset, normalized decimal.Decimal, now time.Time) (domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	if err := CheckBid(*a, asset, now); err != nil {
		return domain.Auction{}, err
	}
	if err := CheckBidValue(*a, normalized); err != nil {
		return domain.Auction{}, err
	}

	r.activate(a, now)
	a.HighestNormalized = normalized
	a.HighestBidder = bidder
	a.HighestAmount = amount
	a.HighestAsset = asset
	a.BidCount++
	a.UpdatedAt = now

	return *a, nil
}

// BeginSettlement closes bidding: the auction moves to ENDED.
func (r *Registry) BeginSettlement(id uint64, now time.Time) (domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	if err := CheckSettle(*a, now); err != nil {
		return domain.Auction{}, err
	}
	if a.Status == domain.StatusPending && a.HasBid() {
		panic(fmt.Sprintf("REGISTRY_INVARIANT_PENDING_WITH_BID: auction %d", id))
	}

	r.transition(a, domain.StatusEnded, now)
	return *a, nil
}

// CompleteSettlement marks an ENDED auction SETTLED and frees its item slot.
func (r *Registry) CompleteSettlement(id uint64, now time.Time) (domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	if a.Status != domain.StatusEnded {
		return domain.Auction{}, domain.ErrAlreadySettled
	}
	r.transition(a, domain.StatusSettled, now)
	delete(r.byItem, a.Ref().Key())
	return *a, nil
}

// Cancel withdraws an auction that has no bids and has not ended.
func (r *Registry) Cancel(id uint64, now time.Time) (domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	if err := CheckCancel(*a, now); err != nil {
		return domain.Auction{}, err
	}
	r.transition(a, domain.StatusCancelled, now)
	delete(r.byItem, a.Ref().Key())
	return *a, nil
}

// Restore reinstates a copy taken before an aborted operation.
func (r *Registry) Restore(snapshot domain.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := snapshot
	r.auctions[cp.ID] = &cp
	key := cp.Ref().Key()
	if cp.IsOpen() {
		r.byItem[key] = cp.ID
	} else if cur, ok := r.byItem[key]; ok && cur == cp.ID {
		delete(r.byItem, key)
	}
	if cp.ID >= r.nextID {
		r.nextID = cp.ID + 1
	}
}

// Load replaces the registry with persisted records.
func (r *Registry) Load(records []domain.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.auctions = make(map[uint64]*domain.Auction, len(records))
	r.byItem = make(map[string]uint64)
	r.nextID = 0
	for i := range records {
		a := records[i]
		r.auctions[a.ID] = &a
		if a.IsOpen() {
			r.byItem[a.Ref().Key()] = a.ID
		}
		if a.ID >= r.nextID {
			r.nextID = a.ID + 1
		}
	}
}

// List returns copies of all auctions ordered by ID.
func (r *Registry) List() []domain.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextID returns the ID the next auction will receive.
func (r *Registry) NextID() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextID
}

func (r *Registry) transition(a *domain.Auction, to domain.AuctionStatus, now time.Time) {
	if !domain.CanTransition(a.Status, to) {
		panic(fmt.Sprintf("REGISTRY_ILLEGAL_TRANSITION: auction %d %s -> %s", a.ID, a.Status, to))
	}
	a.Status = to
	a.UpdatedAt = now
}
