// Package sim holds in-process stand-ins for the token and item contracts the
// auction escrow talks to.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferRejected    = errors.New("transfer rejected")
)

// ReceiveHook runs after value reaches an account, outside the ledger lock.
// It may call back into the auction service. A non-nil error reverts the
// transfer, like a reverting receive function.
type ReceiveHook func(ctx context.Context, asset domain.Asset, amount decimal.Decimal) error

// Tokens is a multi-asset balance sheet with allowances granted to one
// escrow account. The native asset needs no allowance.
type Tokens struct {
	mu         sync.Mutex
	escrow     domain.Address
	balances   map[domain.Asset]map[domain.Address]decimal.Decimal
	allowances map[domain.Asset]map[domain.Address]decimal.Decimal
	hooks      map[domain.Address]ReceiveHook
}

// NewTokens creates an empty ledger whose escrow account is escrow.
func NewTokens(escrow domain.Address) *Tokens {
	return &Tokens{
		escrow:     escrow,
		balances:   make(map[domain.Asset]map[domain.Address]decimal.Decimal),
		allowances: make(map[domain.Asset]map[domain.Address]decimal.Decimal),
		hooks:      make(map[domain.Address]ReceiveHook),
	}
}

// Escrow returns the escrow account.
func (t *Tokens) Escrow() domain.Address {
	return t.escrow
}

// Mint credits amount of asset to account.
func (t *Tokens) Mint(asset domain.Asset, account domain.Address, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(asset, account, amount)
}

// Approve sets the allowance owner grants the escrow account.
func (t *Tokens) Approve(asset domain.Asset, owner domain.Address, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[asset] == nil {
		t.allowances[asset] = make(map[domain.Address]decimal.Decimal)
	}
	t.allowances[asset][owner] = amount
}

// OnReceive installs a hook for transfers to account (nil removes it).
func (t *Tokens) OnReceive(account domain.Address, hook ReceiveHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if hook == nil {
		delete(t.hooks, account)
		return
	}
	t.hooks[account] = hook
}

// BalanceOf returns the balance of account in asset.
func (t *Tokens) BalanceOf(asset domain.Asset, account domain.Address) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[asset][account]
}

// Allowance returns what owner allowed the escrow account to pull.
func (t *Tokens) Allowance(ctx context.Context, asset domain.Asset, owner domain.Address) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[asset][owner], nil
}

// TransferIn pulls amount from account into escrow. Tokens consume allowance;
// the native asset models value attached to the call.
func (t *Tokens) TransferIn(ctx context.Context, asset domain.Asset, from domain.Address, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !asset.IsNative() {
		allowed := t.allowances[asset][from]
		if allowed.LessThan(amount) {
			return fmt.Errorf("%w: allowance %s < %s", ErrTransferRejected, allowed, amount)
		}
	}
	if err := t.move(asset, from, t.escrow, amount); err != nil {
		return err
	}
	if !asset.IsNative() {
		t.allowances[asset][from] = t.allowances[asset][from].Sub(amount)
	}
	return nil
}

// TransferOut sends amount from escrow to account and runs its receive hook.
func (t *Tokens) TransferOut(ctx context.Context, asset domain.Asset, to domain.Address, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if err := t.move(asset, t.escrow, to, amount); err != nil {
		t.mu.Unlock()
		return err
	}
	hook := t.hooks[to]
	t.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, asset, amount); err != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if revertErr := t.move(asset, to, t.escrow, amount); revertErr != nil {
			panic(fmt.Sprintf("SIM_REVERT_FAILED: %v", revertErr))
		}
		return fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}
	return nil
}

func (t *Tokens) move(asset domain.Asset, from, to domain.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount %s", ErrTransferRejected, amount)
	}
	have := t.balances[asset][from]
	if have.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, have, amount)
	}
	t.balances[asset][from] = have.Sub(amount)
	t.credit(asset, to, amount)
	return nil
}

func (t *Tokens) credit(asset domain.Asset, account domain.Address, amount decimal.Decimal) {
	if t.balances[asset] == nil {
		t.balances[asset] = make(map[domain.Address]decimal.Decimal)
	}
	t.balances[asset][account] = t.balances[asset][account].Add(amount)
}
