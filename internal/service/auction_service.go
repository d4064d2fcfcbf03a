package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nft_auction/internal/domain"
	"nft_auction/internal/engine"
	"nft_auction/internal/escrow"
	"nft_auction/internal/event"
	"nft_auction/internal/infra"
	"nft_auction/internal/pricing"
	"nft_auction/internal/registry"
)

// Clock supplies the current time. Domain logic never reads time directly.
type Clock func() time.Time

// Deps wires the collaborators of an AuctionService.
// Store, Events and Metrics are optional.
type Deps struct {
	Registry   *registry.Registry
	Ledger     *escrow.Ledger
	Feeds      *pricing.FeedBook
	Adapter    *pricing.Adapter
	Normalizer *pricing.Normalizer
	Sequencer  *engine.Sequencer
	Store      domain.AuctionStore
	Events     *event.Dispatcher
	Metrics    *infra.Metrics
	Clock      Clock
	Operator   domain.Address
	Logger     *slog.Logger
}

// AuctionService sequences auction operations over the registry, the
// normalizer and the escrow ledger. Every mutating call for one auction runs
// on that auction's sequencer shard.
type AuctionService struct {
	registry   *registry.Registry
	ledger     *escrow.Ledger
	feeds      *pricing.FeedBook
	adapter    *pricing.Adapter
	normalizer *pricing.Normalizer
	seq        *engine.Sequencer
	store      domain.AuctionStore
	events     *event.Dispatcher
	metrics    *infra.Metrics
	clock      Clock
	operator   domain.Address
	logger     *slog.Logger

	feedMu sync.Mutex // serializes SetPriceFeed
}

// NewAuctionService creates a service from deps.
func NewAuctionService(d Deps) *AuctionService {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = &infra.Metrics{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &AuctionService{
		registry:   d.Registry,
		ledger:     d.Ledger,
		feeds:      d.Feeds,
		adapter:    d.Adapter,
		normalizer: d.Normalizer,
		seq:        d.Sequencer,
		store:      d.Store,
		events:     d.Events,
		metrics:    d.Metrics,
		clock:      d.Clock,
		operator:   d.Operator,
		logger:     d.Logger.With(slog.String("module", "auction")),
	}
}

// CreateAuctionRequest describes a new listing. A zero StartTime starts the
// auction immediately; an empty AcceptedAsset accepts any asset with a feed.
type CreateAuctionRequest struct {
	NFTContract   domain.Address
	TokenID       string
	StartTime     time.Time
	Duration      time.Duration
	ReservePrice  decimal.Decimal
	AcceptedAsset domain.Asset
}

// Recover loads persisted state into memory. Call before serving requests.
func (s *AuctionService) Recover(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("recover state: %w", err)
	}
	s.registry.Load(snap.Auctions)
	s.ledger.Load(snap.Escrows)
	s.feeds.Load(snap.Feeds)
	s.ledger.LoadOwed(snap.Refunds)

	s.logger.Info("State recovered",
		slog.Int("auctions", len(snap.Auctions)),
		slog.Int("escrows", len(snap.Escrows)),
		slog.Int("feeds", len(snap.Feeds)),
		slog.Int("pending_refunds", len(snap.Refunds)),
	)
	return nil
}

// CreateAuction lists an item. Escrow takes custody before the ID is returned.
func (s *AuctionService) CreateAuction(ctx context.Context, seller domain.Address, req CreateAuctionRequest) (uint64, error) {
	const op = "createAuction"
	defer s.observe(time.Now())

	if seller.IsZero() {
		return 0, s.fail(fmt.Errorf("%s: %w", op, domain.ErrUnauthorized))
	}
	ref := domain.AssetRef{Contract: req.NFTContract, TokenID: req.TokenID}
	if !ref.Valid() {
		return 0, s.fail(fmt.Errorf("%s: %w: invalid item reference", op, domain.ErrNotOwnerOrUnapproved))
	}

	now := s.clock()
	a, err := s.registry.Create(registry.CreateParams{
		Seller:        seller,
		Item:          ref,
		StartTime:     req.StartTime,
		Duration:      req.Duration,
		ReservePrice:  req.ReservePrice,
		AcceptedAsset: req.AcceptedAsset,
	}, now)
	if err != nil {
		return 0, s.fail(fmt.Errorf("%s: %w", op, err))
	}

	var env domain.Envelope
	err = s.seq.Execute(ctx, a.ID, func(ctx context.Context) error {
		if err := s.ledger.HoldAsset(ctx, a.ID, ref, seller); err != nil {
			s.registry.Discard(a.ID)
			return err
		}

		rec, _ := s.ledger.Snapshot(a.ID)
		env = event.NewEnvelope(domain.KindAuctionCreated, a.ID, now, domain.AuctionCreated{
			AuctionID:    a.ID,
			Seller:       seller,
			NFTContract:  a.NFTContract,
			TokenID:      a.TokenID,
			StartTime:    a.StartTime,
			EndTime:      a.EndTime,
			ReservePrice: a.ReservePrice,
		})
		if err := s.commit(ctx, domain.StateChange{
			Auctions: []domain.Auction{a},
			Escrows:  []domain.EscrowRecord{rec},
		}, env); err != nil {
			if rerr := s.ledger.ReleaseAssetToSeller(context.WithoutCancel(ctx), a.ID, seller); rerr != nil {
				panic(fmt.Sprintf("CUSTODY_COMPENSATION_FAILED: auction %d: %v", a.ID, rerr))
			}
			s.ledger.Remove(a.ID)
			s.registry.Discard(a.ID)
			return err
		}
		return nil
	})
	if err != nil {
		return 0, s.fail(domain.NewAuctionError(op, a.ID, "", err))
	}

	s.metrics.RecordAuctionCreated()
	s.publish(ctx, env)
	s.logger.Info("Auction created",
		slog.Uint64("auction_id", a.ID),
		slog.String("seller", seller.String()),
		slog.String("item", ref.Key()),
		slog.Time("end_time", a.EndTime),
	)
	return a.ID, nil
}

// PlaceBid places a bid of amount in asset. nativeValue is the native value
// attached to the call: it must equal amount for native bids and be zero for
// token bids. The previous highest bidder is refunded in full.
func (s *AuctionService) PlaceBid(ctx context.Context, bidder domain.Address, auctionID uint64, amount decimal.Decimal, asset domain.Asset, nativeValue decimal.Decimal) error {
	const op = "placeBid"
	defer s.observe(time.Now())

	var (
		env      domain.Envelope
		refunded bool
	)
	err := s.seq.Execute(ctx, auctionID, func(ctx context.Context) error {
		if bidder.IsZero() {
			return domain.ErrUnauthorized
		}
		if !amount.IsPositive() {
			return domain.ErrInvalidAmount
		}

		now := s.clock()
		before, err := s.registry.Get(auctionID)
		if err != nil {
			return err
		}
		if err := registry.CheckBid(before, asset, now); err != nil {
			return err
		}

		normalized, err := s.normalizer.Normalize(ctx, amount, asset)
		if err != nil {
			return err
		}
		if err := registry.CheckBidValue(before, normalized); err != nil {
			return err
		}
		if engine.IsReentrant(ctx) {
			return domain.ErrReentrantCall
		}

		escrowBefore, ok := s.ledger.Snapshot(auctionID)
		if !ok {
			return domain.ErrNothingHeld
		}

		// effects
		updated, err := s.registry.RecordBid(auctionID, bidder, amount, asset, normalized, now)
		if err != nil {
			return err
		}
		prev, err := s.ledger.DepositBid(ctx, auctionID, bidder, amount, asset, nativeValue)
		if err != nil {
			s.registry.Restore(before)
			return err
		}
		deposit := domain.Deposit{Depositor: bidder, Amount: amount, Asset: asset}

		rec, _ := s.ledger.Snapshot(auctionID)
		env = event.NewEnvelope(domain.KindBidPlaced, auctionID, now, domain.BidPlaced{
			AuctionID:       auctionID,
			Bidder:          bidder,
			NormalizedValue: normalized,
			RawAmount:       amount,
			Asset:           asset,
		})
		if err := s.commit(ctx, domain.StateChange{
			Auctions: []domain.Auction{updated},
			Escrows:  []domain.EscrowRecord{rec},
		}, env); err != nil {
			s.abortBid(ctx, before, escrowBefore, deposit, "")
			return err
		}

		// interactions
		if err := s.ledger.RefundPrevious(ctx, auctionID, prev); err != nil {
			s.abortBid(ctx, before, escrowBefore, deposit, env.ID)
			return err
		}
		refunded = !prev.IsZero()
		return nil
	})
	if err != nil {
		s.rejectBid(err)
		return domain.NewAuctionError(op, auctionID, asset, err)
	}

	s.metrics.RecordBidAccepted()
	if refunded {
		s.metrics.RecordRefund()
	}
	s.publish(ctx, env)
	s.logger.Info("Bid placed",
		slog.Uint64("auction_id", auctionID),
		slog.String("bidder", bidder.String()),
		slog.String("amount", amount.String()),
		slog.String("asset", asset.String()),
	)
	return nil
}

// abortBid undoes an accepted bid whose later step failed: records are
// restored, the new deposit is sent back and, if the bid was already
// persisted, the store is rewritten. Compensation ignores the caller's
// cancellation. A deposit that cannot be sent back is booked as owed.
func (s *AuctionService) abortBid(ctx context.Context, before domain.Auction, escrowBefore domain.EscrowRecord, deposit domain.Deposit, committedEvent string) {
	ctx = context.WithoutCancel(ctx)
	s.registry.Restore(before)
	s.ledger.Restore(escrowBefore)

	var change domain.StateChange
	if committedEvent != "" {
		change.Auctions = []domain.Auction{before}
		change.Escrows = []domain.EscrowRecord{escrowBefore}
		change.Retract = []string{committedEvent}
	}

	if err := s.ledger.ReturnDeposit(ctx, deposit); err != nil {
		s.metrics.RecordError()
		s.logger.Error("Deposit compensation failed",
			slog.Uint64("auction_id", before.ID),
			slog.String("depositor", deposit.Depositor.String()),
			slog.String("amount", deposit.Amount.String()),
			slog.String("asset", deposit.Asset.String()),
			slog.Any("error", err),
		)
		owed := s.ledger.RecordOwed(before.ID, deposit, err.Error())
		change.Refunds = append(change.Refunds, owed)
	}

	if !change.IsEmpty() {
		s.mustCommit(ctx, change)
	}
}

// EndAuction settles an auction whose window has closed. Anyone may call it.
// ENDED is committed before any transfer; if a transfer fails the auction
// stays ENDED and a later call resumes the remaining transfers.
func (s *AuctionService) EndAuction(ctx context.Context, caller domain.Address, auctionID uint64) error {
	const op = "endAuction"
	defer s.observe(time.Now())

	var env domain.Envelope
	err := s.seq.Execute(ctx, auctionID, func(ctx context.Context) error {
		now := s.clock()
		a, err := s.registry.Get(auctionID)
		if err != nil {
			return err
		}

		if a.Status == domain.StatusEnded {
			if engine.IsReentrant(ctx) {
				return domain.ErrAlreadySettled
			}
			s.logger.Warn("Resuming interrupted settlement", slog.Uint64("auction_id", auctionID))
			env, err = s.settle(ctx, a, now)
			return err
		}

		if err := registry.CheckSettle(a, now); err != nil {
			return err
		}
		if engine.IsReentrant(ctx) {
			return domain.ErrReentrantCall
		}

		ended, err := s.registry.BeginSettlement(auctionID, now)
		if err != nil {
			return err
		}
		if err := s.commit(ctx, domain.StateChange{Auctions: []domain.Auction{ended}}); err != nil {
			s.registry.Restore(a)
			return err
		}

		env, err = s.settle(ctx, ended, now)
		return err
	})
	if err != nil {
		s.fail(err)
		return domain.NewAuctionError(op, auctionID, "", err)
	}

	s.metrics.RecordSettlement()
	s.publish(ctx, env)

	ended := env.Data.(domain.AuctionEnded)
	s.logger.Info("Auction settled",
		slog.Uint64("auction_id", auctionID),
		slog.String("caller", caller.String()),
		slog.String("winner", ended.Winner.String()),
		slog.String("highest_bid", ended.HighestBid.String()),
	)
	return nil
}

// settle performs whatever transfers an ENDED auction still owes and marks
// it SETTLED.
func (s *AuctionService) settle(ctx context.Context, a domain.Auction, now time.Time) (domain.Envelope, error) {
	rec, ok := s.ledger.Snapshot(a.ID)
	if !ok {
		panic(fmt.Sprintf("SETTLEMENT_WITHOUT_ESCROW: auction %d", a.ID))
	}

	if a.HasBid() {
		if rec.HoldsFunds {
			if _, err := s.ledger.ReleaseFundsToSeller(ctx, a.ID, a.Seller); err != nil {
				s.persistEscrow(ctx, a.ID)
				return domain.Envelope{}, err
			}
		}
		if rec.HoldsItem {
			if err := s.ledger.ReleaseAssetToWinner(ctx, a.ID, a.HighestBidder); err != nil {
				s.persistEscrow(ctx, a.ID)
				return domain.Envelope{}, err
			}
		}
	} else if rec.HoldsItem {
		if err := s.ledger.ReleaseAssetToSeller(ctx, a.ID, a.Seller); err != nil {
			s.persistEscrow(ctx, a.ID)
			return domain.Envelope{}, err
		}
	}

	settled, err := s.registry.CompleteSettlement(a.ID, now)
	if err != nil {
		return domain.Envelope{}, err
	}
	rec, _ = s.ledger.Snapshot(a.ID)

	data := domain.AuctionEnded{AuctionID: a.ID, HighestBid: decimal.Zero}
	if a.HasBid() {
		data.Winner = a.HighestBidder
		data.HighestBid = a.HighestAmount
		data.Asset = a.HighestAsset
	}
	env := event.NewEnvelope(domain.KindAuctionEnded, a.ID, now, data)

	s.mustCommit(ctx, domain.StateChange{
		Auctions: []domain.Auction{settled},
		Escrows:  []domain.EscrowRecord{rec},
	}, env)
	return env, nil
}

func (s *AuctionService) persistEscrow(ctx context.Context, id uint64) {
	rec, ok := s.ledger.Snapshot(id)
	if !ok {
		return
	}
	s.mustCommit(ctx, domain.StateChange{Escrows: []domain.EscrowRecord{rec}})
}

// CancelAuction withdraws an auction without bids and returns the item to
// the seller. Only the seller or the operator may cancel.
func (s *AuctionService) CancelAuction(ctx context.Context, caller domain.Address, auctionID uint64) error {
	const op = "cancelAuction"
	defer s.observe(time.Now())

	var env domain.Envelope
	err := s.seq.Execute(ctx, auctionID, func(ctx context.Context) error {
		now := s.clock()
		a, err := s.registry.Get(auctionID)
		if err != nil {
			return err
		}
		if caller.IsZero() || (caller != a.Seller && caller != s.operator) {
			return domain.ErrUnauthorized
		}
		if err := registry.CheckCancel(a, now); err != nil {
			return err
		}
		if engine.IsReentrant(ctx) {
			return domain.ErrReentrantCall
		}

		escrowBefore, ok := s.ledger.Snapshot(auctionID)
		if !ok {
			return domain.ErrNothingHeld
		}

		cancelled, err := s.registry.Cancel(auctionID, now)
		if err != nil {
			return err
		}
		released := escrowBefore
		released.HoldsItem = false
		released.UpdatedAt = now

		env = event.NewEnvelope(domain.KindAuctionCancelled, auctionID, now, domain.AuctionCancelled{
			AuctionID: auctionID,
			Seller:    a.Seller,
			By:        caller,
		})
		if err := s.commit(ctx, domain.StateChange{
			Auctions: []domain.Auction{cancelled},
			Escrows:  []domain.EscrowRecord{released},
		}, env); err != nil {
			s.registry.Restore(a)
			return err
		}

		if err := s.ledger.ReleaseAssetToSeller(ctx, auctionID, a.Seller); err != nil {
			s.registry.Restore(a)
			s.ledger.Restore(escrowBefore)
			s.mustCommit(ctx, domain.StateChange{
				Auctions: []domain.Auction{a},
				Escrows:  []domain.EscrowRecord{escrowBefore},
				Retract:  []string{env.ID},
			})
			return err
		}
		return nil
	})
	if err != nil {
		s.fail(err)
		return domain.NewAuctionError(op, auctionID, "", err)
	}

	s.metrics.RecordCancellation()
	s.publish(ctx, env)
	s.logger.Info("Auction cancelled", slog.Uint64("auction_id", auctionID), slog.String("by", caller.String()))
	return nil
}

// SetPriceFeed points asset at the oracle registered as oracleRef. Operator
// only. Bids already normalized are unaffected.
func (s *AuctionService) SetPriceFeed(ctx context.Context, caller domain.Address, asset domain.Asset, oracleRef string) (domain.PriceFeedEntry, error) {
	const op = "setPriceFeed"
	defer s.observe(time.Now())

	if caller.IsZero() || caller != s.operator {
		return domain.PriceFeedEntry{}, s.fail(fmt.Errorf("%s: %w", op, domain.ErrUnauthorized))
	}
	if asset == "" {
		return domain.PriceFeedEntry{}, s.fail(fmt.Errorf("%s: %w", op, domain.ErrInvalidAsset))
	}

	q, err := s.adapter.ReadRef(ctx, oracleRef)
	if err != nil {
		return domain.PriceFeedEntry{}, s.fail(fmt.Errorf("%s [%s]: %w", op, asset, err))
	}

	now := s.clock()
	entry := domain.PriceFeedEntry{
		Asset:     asset,
		OracleRef: oracleRef,
		Decimals:  q.Decimals,
		UpdatedBy: caller,
		UpdatedAt: now,
	}
	env := event.NewEnvelope(domain.KindPriceFeedSet, 0, now, domain.PriceFeedSet{
		Asset:     asset,
		Oracle:    oracleRef,
		Decimals:  q.Decimals,
		UpdatedBy: caller,
	})

	s.feedMu.Lock()
	var prev *domain.PriceFeedEntry
	if old, ok := s.feeds.Get(asset); ok {
		prev = &old
	}
	s.feeds.Set(entry)
	if err := s.commit(ctx, domain.StateChange{Feeds: []domain.PriceFeedEntry{entry}}, env); err != nil {
		s.feeds.Restore(asset, prev)
		s.feedMu.Unlock()
		return domain.PriceFeedEntry{}, s.fail(fmt.Errorf("%s [%s]: %w", op, asset, err))
	}
	s.feedMu.Unlock()

	s.metrics.RecordFeedUpdate()
	s.publish(ctx, env)
	s.logger.Info("Price feed set",
		slog.String("asset", asset.String()),
		slog.String("oracle", oracleRef),
		slog.Int("decimals", int(q.Decimals)),
	)
	return entry, nil
}

// RetryRefunds tries to pay every pending refund and returns how many were
// paid. Anyone may call it; funds only go to their owner.
func (s *AuctionService) RetryRefunds(ctx context.Context) (int, error) {
	const op = "retryRefunds"
	defer s.observe(time.Now())

	var (
		paid int
		errs []error
	)
	for _, p := range s.ledger.Owed() {
		err := s.seq.Execute(ctx, p.AuctionID, func(ctx context.Context) error {
			if engine.IsReentrant(ctx) {
				return domain.ErrReentrantCall
			}
			if _, err := s.ledger.PayOwed(ctx, p.ID); err != nil {
				return err
			}
			s.mustCommit(ctx, domain.StateChange{Paid: []string{p.ID}})
			return nil
		})
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// paid by a concurrent retry
		case err != nil:
			errs = append(errs, fmt.Errorf("refund %s: %w", p.ID, err))
		default:
			paid++
			s.metrics.RecordRefund()
		}
	}
	if len(errs) > 0 {
		return paid, s.fail(fmt.Errorf("%s: %w", op, errors.Join(errs...)))
	}
	return paid, nil
}

// PendingRefunds returns the deposits escrow still owes, oldest first.
func (s *AuctionService) PendingRefunds(ctx context.Context) []domain.PendingRefund {
	return s.ledger.Owed()
}

// GetAuction returns the auction as observed now.
func (s *AuctionService) GetAuction(ctx context.Context, auctionID uint64) (domain.Auction, error) {
	a, err := s.registry.Get(auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Status = a.EffectiveStatus(s.clock())
	return a, nil
}

// ListAuctions returns all auctions, oldest first.
func (s *AuctionService) ListAuctions(ctx context.Context) []domain.Auction {
	now := s.clock()
	list := s.registry.List()
	for i := range list {
		list[i].Status = list[i].EffectiveStatus(now)
	}
	return list
}

// GetEscrow returns the custody record of an auction.
func (s *AuctionService) GetEscrow(ctx context.Context, auctionID uint64) (domain.EscrowRecord, error) {
	rec, ok := s.ledger.Snapshot(auctionID)
	if !ok {
		return domain.EscrowRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// ListFeeds returns the configured price feeds.
func (s *AuctionService) ListFeeds(ctx context.Context) []domain.PriceFeedEntry {
	return s.feeds.List()
}

// Operator returns the account allowed to manage feeds.
func (s *AuctionService) Operator() domain.Address {
	return s.operator
}

// ======================================================================================
// helpers
// ======================================================================================

func (s *AuctionService) commit(ctx context.Context, change domain.StateChange, envs ...domain.Envelope) error {
	if s.store == nil {
		return nil
	}
	for _, env := range envs {
		rec, err := event.ToRecord(env)
		if err != nil {
			return err
		}
		change.Events = append(change.Events, rec)
	}
	return s.store.Commit(ctx, change)
}

// mustCommit is used once transfers happened: memory and disk must not diverge.
func (s *AuctionService) mustCommit(ctx context.Context, change domain.StateChange, envs ...domain.Envelope) {
	if err := s.commit(context.WithoutCancel(ctx), change, envs...); err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
	}
}

func (s *AuctionService) publish(ctx context.Context, env domain.Envelope) {
	if s.events == nil || env.ID == "" {
		return
	}
	s.events.Dispatch(context.WithoutCancel(ctx), env)
}

func (s *AuctionService) observe(start time.Time) {
	s.metrics.RecordLatency(time.Since(start).Nanoseconds())
	s.metrics.SetHalted(s.seq.Halted())
}

func (s *AuctionService) fail(err error) error {
	s.metrics.RecordError()
	return err
}

var bidRejections = []error{
	domain.ErrBidTooLow,
	domain.ErrAuctionNotActive,
	domain.ErrAssetNotAccepted,
	domain.ErrNoPriceFeed,
	domain.ErrValueMismatch,
	domain.ErrAllowanceInsufficient,
	domain.ErrInvalidAmount,
	domain.ErrReentrantCall,
	domain.ErrUnauthorized,
	domain.ErrNotFound,
}

func (s *AuctionService) rejectBid(err error) {
	for _, target := range bidRejections {
		if errors.Is(err, target) {
			s.metrics.RecordBidRejected()
			return
		}
	}
	s.metrics.RecordError()
}
