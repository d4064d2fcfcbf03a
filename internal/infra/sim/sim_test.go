package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft_auction/internal/domain"
)

const (
	escrowAcct = domain.Address("0xe5c0")
	alice      = domain.Address("0xa11ce")
	token      = domain.Asset("0x70ce")
)

func TestTokens_TransferIn(t *testing.T) {
	ctx := context.Background()
	tk := NewTokens(escrowAcct)
	tk.Mint(token, alice, decimal.NewFromInt(10))

	err := tk.TransferIn(ctx, token, alice, decimal.NewFromInt(4))
	require.ErrorIs(t, err, ErrTransferRejected, "no allowance yet")

	tk.Approve(token, alice, decimal.NewFromInt(5))
	require.NoError(t, tk.TransferIn(ctx, token, alice, decimal.NewFromInt(4)))

	allowance, err := tk.Allowance(ctx, token, alice)
	require.NoError(t, err)
	assert.True(t, allowance.Equal(decimal.NewFromInt(1)))
	assert.True(t, tk.BalanceOf(token, alice).Equal(decimal.NewFromInt(6)))
	assert.True(t, tk.BalanceOf(token, escrowAcct).Equal(decimal.NewFromInt(4)))

	tk.Mint(domain.NativeAsset, alice, decimal.RequireFromString("0.5"))
	require.NoError(t, tk.TransferIn(ctx, domain.NativeAsset, alice, decimal.RequireFromString("0.5")))
	err = tk.TransferIn(ctx, domain.NativeAsset, alice, decimal.RequireFromString("0.1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestTokens_ReceiveHookReverts(t *testing.T) {
	ctx := context.Background()
	tk := NewTokens(escrowAcct)
	tk.Mint(domain.NativeAsset, escrowAcct, decimal.NewFromInt(3))

	tk.OnReceive(alice, func(context.Context, domain.Asset, decimal.Decimal) error {
		return errors.New("no thanks")
	})
	err := tk.TransferOut(ctx, domain.NativeAsset, alice, decimal.NewFromInt(2))
	require.ErrorIs(t, err, ErrTransferRejected)
	assert.True(t, tk.BalanceOf(domain.NativeAsset, escrowAcct).Equal(decimal.NewFromInt(3)))
	assert.True(t, tk.BalanceOf(domain.NativeAsset, alice).IsZero())

	tk.OnReceive(alice, nil)
	require.NoError(t, tk.TransferOut(ctx, domain.NativeAsset, alice, decimal.NewFromInt(2)))
	assert.True(t, tk.BalanceOf(domain.NativeAsset, alice).Equal(decimal.NewFromInt(2)))
}

func TestItems(t *testing.T) {
	ctx := context.Background()
	items := NewItems(escrowAcct)
	ref := domain.AssetRef{Contract: "0xnft", TokenID: "1"}
	items.Mint(ref, alice)

	ok, err := items.IsApproved(ctx, ref, alice)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, items.TransferIn(ctx, ref, alice))

	items.Approve(ref, true)
	require.NoError(t, items.TransferIn(ctx, ref, alice))
	owner, err := items.OwnerOf(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, escrowAcct, owner)

	boom := errors.New("paused")
	items.FailTransferOut(ref, boom)
	assert.ErrorIs(t, items.TransferOut(ctx, ref, alice), boom)
	items.FailTransferOut(ref, nil)
	require.NoError(t, items.TransferOut(ctx, ref, alice))

	_, err = items.OwnerOf(ctx, domain.AssetRef{Contract: "0xnft", TokenID: "2"})
	assert.ErrorIs(t, err, ErrNoSuchItem)
}
