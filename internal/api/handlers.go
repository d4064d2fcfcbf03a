// Package api exposes the auction service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
	"nft_auction/internal/event"
	"nft_auction/internal/service"
)

// AccountHeader carries the caller's address.
const AccountHeader = "X-Account"

// EventLog reads persisted events.
type EventLog interface {
	EventsByAuction(ctx context.Context, auctionID uint64) ([]domain.EventRecord, error)
}

// Options holds the optional collaborators of a Handler.
type Options struct {
	Events  EventLog     // GET /api/v1/auctions/{id}/events
	Stream  http.Handler // GET /ws/auctions
	Metrics http.Handler // GET /metrics
	Chain   *Chain       // /api/v1/sim/...
	Logger  *slog.Logger
}

// Handler contains HTTP request handlers
type Handler struct {
	svc  *service.AuctionService
	opts Options
	log  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.AuctionService, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, opts: opts, log: logger.With(slog.String("module", "api"))}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if h.opts.Metrics != nil {
		router.Handle("/metrics", h.opts.Metrics).Methods(http.MethodGet)
	}
	if h.opts.Stream != nil {
		router.Handle("/ws/auctions", h.opts.Stream)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions", h.ListAuctions).Methods(http.MethodGet)
	api.HandleFunc("/auctions", h.CreateAuction).Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id:[0-9]+}", h.GetAuction).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id:[0-9]+}/bids", h.PlaceBid).Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id:[0-9]+}/end", h.EndAuction).Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id:[0-9]+}/cancel", h.CancelAuction).Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id:[0-9]+}/events", h.ListEvents).Methods(http.MethodGet)
	api.HandleFunc("/feeds", h.ListFeeds).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{asset}", h.SetPriceFeed).Methods(http.MethodPut)
	api.HandleFunc("/refunds", h.ListRefunds).Methods(http.MethodGet)
	api.HandleFunc("/refunds/retry", h.RetryRefunds).Methods(http.MethodPost)

	if h.opts.Chain != nil {
		api.HandleFunc("/sim/approvals/items", h.ApproveItem).Methods(http.MethodPost)
		api.HandleFunc("/sim/approvals/tokens", h.ApproveTokens).Methods(http.MethodPost)
		api.HandleFunc("/sim/balance", h.Balance).Methods(http.MethodGet)
	}

	router.Use(h.loggingMiddleware)
	router.Use(corsMiddleware)

	return router
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "nft-auction",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

type createAuctionRequest struct {
	NFTContract   string          `json:"nft_contract"`
	TokenID       string          `json:"token_id"`
	StartTime     *time.Time      `json:"start_time,omitempty"`
	DurationSec   int64           `json:"duration_sec"`
	ReservePrice  decimal.Decimal `json:"reserve_price"`
	AcceptedAsset string          `json:"accepted_asset,omitempty"`
}

// CreateAuction lists an item held by the caller.
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}

	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	in := service.CreateAuctionRequest{
		NFTContract:   domain.NewAddress(req.NFTContract),
		TokenID:       req.TokenID,
		Duration:      time.Duration(req.DurationSec) * time.Second,
		ReservePrice:  req.ReservePrice,
		AcceptedAsset: domain.NewAsset(req.AcceptedAsset),
	}
	if req.StartTime != nil {
		in.StartTime = *req.StartTime
	}

	id, err := h.svc.CreateAuction(r.Context(), caller, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]uint64{"auction_id": id})
}

// ListAuctions returns every auction.
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.ListAuctions(r.Context()))
}

type auctionView struct {
	Auction domain.Auction       `json:"auction"`
	Escrow  *domain.EscrowRecord `json:"escrow,omitempty"`
}

// GetAuction returns one auction with its custody record.
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	a, err := h.svc.GetAuction(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	view := auctionView{Auction: a}
	if rec, err := h.svc.GetEscrow(r.Context(), id); err == nil {
		view.Escrow = &rec
	}
	respondJSON(w, http.StatusOK, view)
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Asset  string          `json:"asset"`
	Value  decimal.Decimal `json:"value"` // native value attached to the bid
}

// PlaceBid handles bid placement requests
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	asset := domain.NewAsset(req.Asset)
	if asset == "" {
		asset = domain.NativeAsset
	}

	if err := h.svc.PlaceBid(r.Context(), caller, id, req.Amount, asset, req.Value); err != nil {
		h.fail(w, err)
		return
	}

	a, err := h.svc.GetAuction(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

// EndAuction settles an auction. Anyone may call it.
func (h *Handler) EndAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	if err := h.svc.EndAuction(r.Context(), caller, id); err != nil {
		h.fail(w, err)
		return
	}
	h.GetAuction(w, r)
}

// CancelAuction withdraws an auction without bids.
func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CancelAuction(r.Context(), caller, id); err != nil {
		h.fail(w, err)
		return
	}
	h.GetAuction(w, r)
}

// ListEvents returns the persisted event log of one auction.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	if h.opts.Events == nil {
		respondError(w, http.StatusNotImplemented, "event log not configured")
		return
	}

	records, err := h.opts.Events.EventsByAuction(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]domain.Envelope, 0, len(records))
	for _, rec := range records {
		out = append(out, event.FromRecord(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

type feedRequest struct {
	Oracle string `json:"oracle"`
}

// SetPriceFeed points an asset at an oracle. Operator only.
func (h *Handler) SetPriceFeed(w http.ResponseWriter, r *http.Request) {
	caller, ok := account(w, r)
	if !ok {
		return
	}

	var req feedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	asset := domain.NewAsset(mux.Vars(r)["asset"])
	entry, err := h.svc.SetPriceFeed(r.Context(), caller, asset, req.Oracle)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// ListFeeds returns the configured price feeds.
func (h *Handler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.ListFeeds(r.Context()))
}

// ListRefunds returns deposits escrow still owes.
func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.PendingRefunds(r.Context()))
}

// RetryRefunds pays out whatever pending refunds can be paid now.
func (h *Handler) RetryRefunds(w http.ResponseWriter, r *http.Request) {
	paid, err := h.svc.RetryRefunds(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"paid":    paid,
		"pending": h.svc.PendingRefunds(r.Context()),
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", slog.Int("status", status), slog.Any("error", err))
	}
	respondJSON(w, status, map[string]any{
		"error":     err.Error(),
		"retriable": domain.IsRetriable(err),
	})
}

func account(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	addr := domain.NewAddress(r.Header.Get(AccountHeader))
	if addr.IsZero() {
		respondError(w, http.StatusUnauthorized, AccountHeader+" header is required")
		return "", false
	}
	return addr, true
}

func auctionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid auction id")
		return 0, false
	}
	return id, true
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
