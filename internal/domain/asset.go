package domain

import "strings"

// Address identifies an account or a contract (hex, lower-cased).
type Address string

// ZeroAddress is the all-zero account. It is never a valid seller or bidder.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// NewAddress normalises a user supplied address.
func NewAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

// IsZero reports whether the address is empty or the zero address.
func (a Address) IsZero() bool {
	return a == "" || a == ZeroAddress
}

func (a Address) String() string {
	return string(a)
}

// Asset identifies a payment asset by its token contract address.
// Native currency uses the zero address.
type Asset string

// NativeAsset is the chain's native currency.
const NativeAsset Asset = Asset(ZeroAddress)

// NewAsset normalises a user supplied asset identifier.
// An empty string is kept empty ("no restriction" where it is allowed).
func NewAsset(s string) Asset {
	return Asset(NewAddress(s))
}

// IsNative reports whether the asset is the native currency.
func (a Asset) IsNative() bool {
	return a == NativeAsset
}

func (a Asset) String() string {
	return string(a)
}

// AssetRef points at one non-fungible item: contract + token id.
type AssetRef struct {
	Contract Address `json:"contract"`
	TokenID  string  `json:"token_id"`
}

// Key returns the canonical "contract#tokenId" form used for indexing.
func (r AssetRef) Key() string {
	return string(r.Contract) + "#" + r.TokenID
}

// Valid reports whether both halves of the reference are set.
func (r AssetRef) Valid() bool {
	return !r.Contract.IsZero() && strings.TrimSpace(r.TokenID) != ""
}
