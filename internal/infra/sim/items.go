package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nft_auction/internal/domain"
)

var ErrNoSuchItem = errors.New("no such item")

// Items is a registry of non-fungible items and the approvals their owners
// granted to one escrow account.
type Items struct {
	mu        sync.Mutex
	escrow    domain.Address
	owners    map[string]domain.Address
	approvals map[string]bool
	failOut   map[string]error
}

// NewItems creates an empty registry whose escrow account is escrow.
func NewItems(escrow domain.Address) *Items {
	return &Items{
		escrow:    escrow,
		owners:    make(map[string]domain.Address),
		approvals: make(map[string]bool),
		failOut:   make(map[string]error),
	}
}

// Mint assigns ref to owner.
func (r *Items) Mint(ref domain.AssetRef, owner domain.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[ref.Key()] = owner
	delete(r.approvals, ref.Key())
}

// Approve lets the escrow account pull ref from its current owner.
func (r *Items) Approve(ref domain.AssetRef, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals[ref.Key()] = approved
}

// FailTransferOut makes the next transfers of ref out of escrow fail with err
// (nil clears it).
func (r *Items) FailTransferOut(ref domain.AssetRef, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failOut, ref.Key())
		return
	}
	r.failOut[ref.Key()] = err
}

func (r *Items) OwnerOf(ctx context.Context, ref domain.AssetRef) (domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[ref.Key()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSuchItem, ref.Key())
	}
	return owner, nil
}

func (r *Items) IsApproved(ctx context.Context, ref domain.AssetRef, owner domain.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[ref.Key()] == owner && r.approvals[ref.Key()], nil
}

func (r *Items) TransferIn(ctx context.Context, ref domain.AssetRef, from domain.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ref.Key()
	if r.owners[key] != from || !r.approvals[key] {
		return fmt.Errorf("%w: %s not approved by %s", ErrTransferRejected, key, from)
	}
	r.owners[key] = r.escrow
	delete(r.approvals, key)
	return nil
}

func (r *Items) TransferOut(ctx context.Context, ref domain.AssetRef, to domain.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ref.Key()
	if err := r.failOut[key]; err != nil {
		return err
	}
	if r.owners[key] != r.escrow {
		return fmt.Errorf("%w: %s not held by escrow", ErrTransferRejected, key)
	}
	r.owners[key] = to
	return nil
}
