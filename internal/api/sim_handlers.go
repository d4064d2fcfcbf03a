package api

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
	"nft_auction/internal/infra/sim"
)

// Chain is the simulated token and item ledger the daemon settles against.
type Chain struct {
	Tokens *sim.Tokens
	Items  *sim.Items
}

type itemApprovalRequest struct {
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
}

// ApproveItem lets the escrow account pull the caller's item.
func (h *Handler) ApproveItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req itemApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ref := domain.AssetRef{Contract: domain.NewAddress(req.Contract), TokenID: req.TokenID}
	owner, err := h.opts.Chain.Items.OwnerOf(r.Context(), ref)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if owner != caller {
		respondError(w, http.StatusForbidden, "caller does not own the item")
		return
	}
	h.opts.Chain.Items.Approve(ref, true)
	respondJSON(w, http.StatusOK, map[string]any{"item": ref.Key(), "approved": true})
}

type tokenApprovalRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// ApproveTokens sets the caller's allowance for the escrow account.
func (h *Handler) ApproveTokens(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	var req tokenApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	asset := domain.NewAsset(req.Asset)
	if asset == "" || asset.IsNative() || req.Amount.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid asset or amount")
		return
	}
	h.opts.Chain.Tokens.Approve(asset, caller, req.Amount)
	respondJSON(w, http.StatusOK, map[string]any{"asset": asset, "allowance": req.Amount})
}

// Balance returns the caller's balance of ?asset= (native by default).
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	asset := domain.NewAsset(r.URL.Query().Get("asset"))
	if asset == "" {
		asset = domain.NativeAsset
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"account": caller,
		"asset":   asset,
		"balance": h.opts.Chain.Tokens.BalanceOf(asset, caller),
	})
}
