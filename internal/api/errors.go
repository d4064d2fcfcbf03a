package api

import (
	"errors"
	"net/http"

	"nft_auction/internal/domain"
)

var statusByError = []struct {
	err    error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrUnauthorized, http.StatusForbidden},
	{domain.ErrHalted, http.StatusServiceUnavailable},

	{domain.ErrInvalidWindow, http.StatusBadRequest},
	{domain.ErrInvalidAmount, http.StatusBadRequest},
	{domain.ErrInvalidAsset, http.StatusBadRequest},
	{domain.ErrValueMismatch, http.StatusBadRequest},

	{domain.ErrItemListed, http.StatusConflict},
	{domain.ErrAuctionNotActive, http.StatusConflict},
	{domain.ErrNotYetEnded, http.StatusConflict},
	{domain.ErrAlreadySettled, http.StatusConflict},
	{domain.ErrBidsPresent, http.StatusConflict},
	{domain.ErrReentrantCall, http.StatusConflict},

	{domain.ErrBidTooLow, http.StatusUnprocessableEntity},
	{domain.ErrNoPriceFeed, http.StatusUnprocessableEntity},
	{domain.ErrAssetNotAccepted, http.StatusUnprocessableEntity},
	{domain.ErrNotOwnerOrUnapproved, http.StatusUnprocessableEntity},
	{domain.ErrAllowanceInsufficient, http.StatusUnprocessableEntity},
	{domain.ErrUnknownOracle, http.StatusUnprocessableEntity},
	{domain.ErrNothingHeld, http.StatusUnprocessableEntity},

	{domain.ErrStaleQuote, http.StatusBadGateway},
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}

	var custody *domain.CustodyError
	var oracle *domain.OracleError
	if errors.As(err, &custody) || errors.As(err, &oracle) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
