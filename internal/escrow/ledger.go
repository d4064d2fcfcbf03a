// Package escrow keeps the custody records of every auction and is the only
// component that moves value.
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
)

// Ledger records what escrow holds per auction. Records are updated before
// the outbound transfer they describe is issued.
type Ledger struct {
	mu      sync.RWMutex
	records map[uint64]*domain.EscrowRecord
	owed    map[string]domain.PendingRefund

	funds  domain.FundsCustody
	items  domain.ItemCustody
	now    func() time.Time
	logger *slog.Logger
}

// NewLedger creates a ledger over the given custody collaborators.
func NewLedger(funds domain.FundsCustody, items domain.ItemCustody, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		records: make(map[uint64]*domain.EscrowRecord),
		owed:    make(map[string]domain.PendingRefund),
		funds:   funds,
		items:   items,
		now:     now,
		logger:  slog.Default().With(slog.String("module", "escrow")),
	}
}

// HoldAsset takes custody of ref from its owner for auction id.
// Holding twice for the same auction is a programming error and panics.
func (l *Ledger) HoldAsset(ctx context.Context, id uint64, ref domain.AssetRef, from domain.Address) error {
	l.mu.RLock()
	_, exists := l.records[id]
	l.mu.RUnlock()
	if exists {
		panic(fmt.Sprintf("ESCROW_DUPLICATE_HOLD: auction %d", id))
	}

	owner, err := l.items.OwnerOf(ctx, ref)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotOwnerOrUnapproved, err)
	}
	if owner != from {
		return domain.ErrNotOwnerOrUnapproved
	}
	approved, err := l.items.IsApproved(ctx, ref, from)
	if err != nil {
		return &domain.CustodyError{Op: "approval", Asset: ref.Key(), Err: err}
	}
	if !approved {
		return domain.ErrNotOwnerOrUnapproved
	}

	rec := &domain.EscrowRecord{
		AuctionID:   id,
		NFTContract: ref.Contract,
		TokenID:     ref.TokenID,
		HoldsItem:   true,
		UpdatedAt:   l.now(),
	}
	l.mu.Lock()
	l.records[id] = rec
	l.mu.Unlock()

	if err := l.items.TransferIn(ctx, ref, from); err != nil {
		l.Remove(id)
		return &domain.CustodyError{Op: "transfer_in", Asset: ref.Key(), Err: err}
	}
	return nil
}

// ReleaseAssetToWinner sends the held item to the winning bidder.
func (l *Ledger) ReleaseAssetToWinner(ctx context.Context, id uint64, to domain.Address) error {
	return l.releaseItem(ctx, id, to)
}

// ReleaseAssetToSeller returns the held item to the seller.
func (l *Ledger) ReleaseAssetToSeller(ctx context.Context, id uint64, to domain.Address) error {
	return l.releaseItem(ctx, id, to)
}

func (l *Ledger) releaseItem(ctx context.Context, id uint64, to domain.Address) error {
	l.mu.Lock()
	rec, ok := l.records[id]
	if !ok || !rec.HoldsItem {
		l.mu.Unlock()
		return domain.ErrNothingHeld
	}
	rec.HoldsItem = false
	rec.UpdatedAt = l.now()
	ref := rec.Ref()
	l.mu.Unlock()

	if err := l.items.TransferOut(ctx, ref, to); err != nil {
		l.mu.Lock()
		rec.HoldsItem = true
		l.mu.Unlock()
		return &domain.CustodyError{Op: "transfer_out", Asset: ref.Key(), Err: err}
	}

	l.logger.Info("Item released", slog.Uint64("auction_id", id), slog.String("to", to.String()))
	return nil
}

// DepositBid escrows a new bid and returns the deposit it displaced, which
// the caller must refund. Native bids must attach exactly amount; token bids
// must attach nothing and have enough allowance.
func (l *Ledger) DepositBid(ctx context.Context, id uint64, bidder domain.Address, amount decimal.Decimal, asset domain.Asset, nativeValue decimal.Decimal) (domain.Deposit, error) {
	if !amount.IsPositive() {
		return domain.Deposit{}, domain.ErrInvalidAmount
	}

	l.mu.RLock()
	_, ok := l.records[id]
	l.mu.RUnlock()
	if !ok {
		return domain.Deposit{}, domain.ErrNothingHeld
	}

	if asset.IsNative() {
		if !nativeValue.Equal(amount) {
			return domain.Deposit{}, domain.ErrValueMismatch
		}
	} else {
		if !nativeValue.IsZero() {
			return domain.Deposit{}, domain.ErrValueMismatch
		}
		allowance, err := l.funds.Allowance(ctx, asset, bidder)
		if err != nil {
			return domain.Deposit{}, &domain.CustodyError{Op: "allowance", Asset: asset.String(), Err: err}
		}
		if allowance.LessThan(amount) {
			return domain.Deposit{}, domain.ErrAllowanceInsufficient
		}
	}

	if err := l.funds.TransferIn(ctx, asset, bidder, amount); err != nil {
		return domain.Deposit{}, &domain.CustodyError{Op: "transfer_in", Asset: asset.String(), Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.records[id]
	prev := rec.Funds()
	rec.SetFunds(domain.Deposit{Depositor: bidder, Amount: amount, Asset: asset})
	rec.UpdatedAt = l.now()
	rec.VerifyInvariant()
	return prev, nil
}

// RefundPrevious returns a displaced deposit to its owner, in its own asset.
func (l *Ledger) RefundPrevious(ctx context.Context, id uint64, prev domain.Deposit) error {
	if prev.IsZero() {
		return nil
	}
	if err := l.funds.TransferOut(ctx, prev.Asset, prev.Depositor, prev.Amount); err != nil {
		return &domain.CustodyError{Op: "refund", Asset: prev.Asset.String(), Err: err}
	}
	l.logger.Info("Bid refunded",
		slog.Uint64("auction_id", id),
		slog.String("to", prev.Depositor.String()),
		slog.String("amount", prev.Amount.String()),
		slog.String("asset", prev.Asset.String()),
	)
	return nil
}

// ReleaseFundsToSeller pays the escrowed winning bid to the seller.
func (l *Ledger) ReleaseFundsToSeller(ctx context.Context, id uint64, seller domain.Address) (domain.Deposit, error) {
	l.mu.Lock()
	rec, ok := l.records[id]
	if !ok || !rec.HoldsFunds {
		l.mu.Unlock()
		return domain.Deposit{}, domain.ErrNothingHeld
	}
	d := rec.Funds()
	rec.ClearFunds()
	rec.UpdatedAt = l.now()
	l.mu.Unlock()

	if err := l.funds.TransferOut(ctx, d.Asset, seller, d.Amount); err != nil {
		l.mu.Lock()
		rec.SetFunds(d)
		l.mu.Unlock()
		return domain.Deposit{}, &domain.CustodyError{Op: "transfer_out", Asset: d.Asset.String(), Err: err}
	}

	l.logger.Info("Funds released",
		slog.Uint64("auction_id", id),
		slog.String("to", seller.String()),
		slog.String("amount", d.Amount.String()),
		slog.String("asset", d.Asset.String()),
	)
	return d, nil
}

// ReturnDeposit sends a deposit back to its owner without touching any
// record. Used to compensate a pull when a later step fails.
func (l *Ledger) ReturnDeposit(ctx context.Context, d domain.Deposit) error {
	if d.IsZero() {
		return nil
	}
	if err := l.funds.TransferOut(ctx, d.Asset, d.Depositor, d.Amount); err != nil {
		return &domain.CustodyError{Op: "compensate", Asset: d.Asset.String(), Err: err}
	}
	return nil
}

// RecordOwed books a deposit that could not be sent back. The funds stay in
// escrow until PayOwed succeeds.
func (l *Ledger) RecordOwed(auctionID uint64, d domain.Deposit, reason string) domain.PendingRefund {
	p := domain.PendingRefund{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		Depositor: d.Depositor,
		Amount:    d.Amount,
		Asset:     d.Asset,
		Reason:    reason,
		CreatedAt: l.now(),
	}
	l.mu.Lock()
	l.owed[p.ID] = p
	l.mu.Unlock()

	l.logger.Warn("Refund owed",
		slog.Uint64("auction_id", auctionID),
		slog.String("refund_id", p.ID),
		slog.String("to", d.Depositor.String()),
		slog.String("amount", d.Amount.String()),
		slog.String("asset", d.Asset.String()),
	)
	return p
}

// PayOwed sends a pending refund to its owner and drops it from the books.
// On failure the entry is kept.
func (l *Ledger) PayOwed(ctx context.Context, refundID string) (domain.PendingRefund, error) {
	l.mu.Lock()
	p, ok := l.owed[refundID]
	if !ok {
		l.mu.Unlock()
		return domain.PendingRefund{}, domain.ErrNotFound
	}
	delete(l.owed, refundID)
	l.mu.Unlock()

	if err := l.funds.TransferOut(ctx, p.Asset, p.Depositor, p.Amount); err != nil {
		l.mu.Lock()
		l.owed[refundID] = p
		l.mu.Unlock()
		return domain.PendingRefund{}, &domain.CustodyError{Op: "refund", Asset: p.Asset.String(), Err: err}
	}
	l.logger.Info("Owed refund paid",
		slog.Uint64("auction_id", p.AuctionID),
		slog.String("refund_id", p.ID),
		slog.String("to", p.Depositor.String()),
	)
	return p, nil
}

// Owed returns the pending refunds, oldest first.
func (l *Ledger) Owed() []domain.PendingRefund {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.PendingRefund, 0, len(l.owed))
	for _, p := range l.owed {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LoadOwed replaces the pending refunds with persisted ones.
func (l *Ledger) LoadOwed(refunds []domain.PendingRefund) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owed = make(map[string]domain.PendingRefund, len(refunds))
	for _, p := range refunds {
		l.owed[p.ID] = p
	}
}

// Snapshot returns a copy of the record for id.
func (l *Ledger) Snapshot(id uint64) (domain.EscrowRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return domain.EscrowRecord{}, false
	}
	return *rec, true
}

// Restore reinstates a snapshot taken earlier.
func (l *Ledger) Restore(rec domain.EscrowRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := rec
	l.records[rec.AuctionID] = &cp
}

// Remove drops the record of an auction whose creation was aborted.
func (l *Ledger) Remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, id)
}

// Load replaces all records with persisted ones.
func (l *Ledger) Load(records []domain.EscrowRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[uint64]*domain.EscrowRecord, len(records))
	for i := range records {
		rec := records[i]
		rec.VerifyInvariant()
		l.records[rec.AuctionID] = &rec
	}
}

// List returns copies of all records ordered by auction.
func (l *Ledger) List() []domain.EscrowRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.EscrowRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AuctionID < out[j].AuctionID })
	return out
}

// VerifyAll checks invariants on all records.
func (l *Ledger) VerifyAll() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.records {
		rec.VerifyInvariant()
	}
}
