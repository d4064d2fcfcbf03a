package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceSource is an oracle: the latest price of one asset, with its precision.
type PriceSource interface {
	Latest(ctx context.Context) (Quote, error)
}

// FundsCustody moves fungible value between accounts and the escrow account.
// The native asset is moved with the same calls; TransferIn of NativeAsset
// captures the value attached to the bid.
type FundsCustody interface {
	Allowance(ctx context.Context, asset Asset, owner Address) (decimal.Decimal, error)
	TransferIn(ctx context.Context, asset Asset, from Address, amount decimal.Decimal) error
	TransferOut(ctx context.Context, asset Asset, to Address, amount decimal.Decimal) error
}

// ItemCustody moves non-fungible items between owners and the escrow account.
type ItemCustody interface {
	OwnerOf(ctx context.Context, ref AssetRef) (Address, error)
	IsApproved(ctx context.Context, ref AssetRef, owner Address) (bool, error)
	TransferIn(ctx context.Context, ref AssetRef, from Address) error
	TransferOut(ctx context.Context, ref AssetRef, to Address) error
}

// AuctionStore persists state changes atomically and loads them back.
type AuctionStore interface {
	Commit(ctx context.Context, change StateChange) error
	Load(ctx context.Context) (Snapshot, error)
}

// EventSink receives committed events.
type EventSink interface {
	Publish(ctx context.Context, env Envelope) error
}
