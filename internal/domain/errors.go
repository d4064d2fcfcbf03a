package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "fetch", "decode")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CustodyError wraps a failed token or item transfer. The transfer did not
// happen, so the caller may retry the whole operation.
type CustodyError struct {
	Op    string // "transfer_in", "transfer_out", "allowance", ...
	Asset string
	Err   error
}

func (e *CustodyError) Error() string {
	return "custody " + e.Op + " [" + e.Asset + "]: " + e.Err.Error()
}

func (e *CustodyError) IsRetriable() bool {
	return true
}

func (e *CustodyError) Unwrap() error {
	return e.Err
}

// OracleError wraps a failed price read.
type OracleError struct {
	Ref string
	Err error
}

func (e *OracleError) Error() string {
	return "oracle [" + e.Ref + "]: " + e.Err.Error()
}

func (e *OracleError) IsRetriable() bool {
	return true
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// AuctionError carries the operation and auction a failure belongs to.
// errors.Is matches the wrapped sentinel.
type AuctionError struct {
	Op        string
	AuctionID uint64
	Asset     Asset
	Err       error
}

func (e *AuctionError) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("%s auction=%d asset=%s: %v", e.Op, e.AuctionID, e.Asset, e.Err)
	}
	return fmt.Sprintf("%s auction=%d: %v", e.Op, e.AuctionID, e.Err)
}

func (e *AuctionError) Unwrap() error {
	return e.Err
}

// NewAuctionError wraps err unless it is nil.
func NewAuctionError(op string, id uint64, asset Asset, err error) error {
	if err == nil {
		return nil
	}
	return &AuctionError{Op: op, AuctionID: id, Asset: asset, Err: err}
}

var (
	ErrNotFound              = errors.New("auction not found")
	ErrInvalidWindow         = errors.New("invalid auction window")
	ErrNotOwnerOrUnapproved  = errors.New("seller does not own the item or escrow is not approved")
	ErrAuctionNotActive      = errors.New("auction not active")
	ErrBidTooLow             = errors.New("bid too low")
	ErrNoPriceFeed           = errors.New("no price feed for asset")
	ErrValueMismatch         = errors.New("attached value does not match bid amount")
	ErrAllowanceInsufficient = errors.New("token allowance insufficient")
	ErrNotYetEnded           = errors.New("auction not yet ended")
	ErrAlreadySettled        = errors.New("auction already settled")
	ErrUnauthorized          = errors.New("unauthorized")

	ErrItemListed       = errors.New("item already listed in an open auction")
	ErrAssetNotAccepted = errors.New("asset not accepted by auction")
	ErrBidsPresent      = errors.New("auction has bids")
	ErrUnknownOracle    = errors.New("unknown oracle")
	ErrNothingHeld      = errors.New("nothing held in escrow")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidAsset     = errors.New("invalid asset")

	// ErrReentrantCall is returned when a collaborator re-enters a state
	// change on an auction whose own operation is still in flight.
	ErrReentrantCall = errors.New("reentrant call rejected")

	// ErrHalted is returned for every command once the sequencer stopped on an invariant violation.
	ErrHalted = errors.New("engine halted")

	// ErrStaleQuote is returned when an oracle answer is older than the allowed age.
	ErrStaleQuote = errors.New("stale oracle quote")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
