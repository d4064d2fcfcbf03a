package registry

import (
	"time"

	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
)

// CheckBid reports why a bid in asset cannot be placed at now, if it cannot.
func CheckBid(a domain.Auction, asset domain.Asset, now time.Time) error {
	if a.EffectiveStatus(now) != domain.StatusActive || a.HasEnded(now) {
		return domain.ErrAuctionNotActive
	}
	if !a.Accepts(asset) {
		return domain.ErrAssetNotAccepted
	}
	return nil
}

// CheckBidValue enforces the reserve and the strictly-greater rule.
// Ties never replace the current highest bid.
func CheckBidValue(a domain.Auction, normalized decimal.Decimal) error {
	if normalized.LessThan(a.ReservePrice) {
		return domain.ErrBidTooLow
	}
	if a.HasBid() && !normalized.GreaterThan(a.HighestNormalized) {
		return domain.ErrBidTooLow
	}
	return nil
}

// CheckSettle reports why the auction cannot be ended at now, if it cannot.
func CheckSettle(a domain.Auction, now time.Time) error {
	switch a.Status {
	case domain.StatusEnded, domain.StatusSettled, domain.StatusCancelled:
		return domain.ErrAlreadySettled
	}
	if !a.HasEnded(now) {
		return domain.ErrNotYetEnded
	}
	return nil
}

// CheckCancel reports why the auction cannot be cancelled at now, if it cannot.
func CheckCancel(a domain.Auction, now time.Time) error {
	if a.Status != domain.StatusPending && a.Status != domain.StatusActive {
		return domain.ErrAuctionNotActive
	}
	if a.HasEnded(now) {
		return domain.ErrAuctionNotActive
	}
	if a.HasBid() {
		return domain.ErrBidsPresent
	}
	return nil
}
