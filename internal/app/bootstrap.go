package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nft_auction/internal/api"
	"nft_auction/internal/domain"
	"nft_auction/internal/engine"
	"nft_auction/internal/escrow"
	"nft_auction/internal/event"
	"nft_auction/internal/infra"
	"nft_auction/internal/infra/natsbus"
	"nft_auction/internal/infra/oracle"
	"nft_auction/internal/infra/sim"
	"nft_auction/internal/infra/storage"
	"nft_auction/internal/infra/ws"
	"nft_auction/internal/pricing"
	"nft_auction/internal/registry"
	"nft_auction/internal/service"
)

// DefaultConfigPath is read when AUCTION_CONFIG is unset.
const DefaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics
	Service *service.AuctionService
	Hub     *ws.Hub

	tokens     *sim.Tokens
	items      *sim.Items
	directory  *pricing.Directory
	registry   *registry.Registry
	ledger     *escrow.Ledger
	feeds      *pricing.FeedBook
	sequencer  *engine.Sequencer
	dispatcher *event.Dispatcher
	publisher  *natsbus.Publisher
	httpFeeds  []*oracle.HTTPFeed
	seqDone    chan struct{}
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Metrics: infra.GlobalMetrics}
}

// ConfigPath returns the config file to load.
func ConfigPath() string {
	if p := os.Getenv("AUCTION_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Initialize performs core system initialization: config, logging, storage,
// simulated custody, oracles and the auction core. Nothing runs yet.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping NFT auction engine...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Simulated custody
	escrowAccount := domain.NewAddress(cfg.Auction.EscrowAccount)
	b.tokens = sim.NewTokens(escrowAccount)
	b.items = sim.NewItems(escrowAccount)
	b.seedSim()

	// 5. Oracles
	b.directory = pricing.NewDirectory()
	for _, o := range cfg.Oracles {
		switch o.Kind {
		case infra.OracleHTTP:
			feed := oracle.NewHTTPFeed(oracle.HTTPFeedConfig{
				Ref:          o.Ref,
				URL:          o.URL,
				Decimals:     o.Decimals,
				PollInterval: o.PollInterval(),
				MaxAge:       o.MaxAge(),
			})
			b.httpFeeds = append(b.httpFeeds, feed)
			b.directory.Register(o.Ref, feed)
		default:
			b.directory.Register(o.Ref, oracle.NewStaticFeed(o.Price, o.Decimals))
		}
	}
	slog.Info("✅ Oracles registered", slog.Any("refs", b.directory.Refs()))

	// 6. Auction core
	b.registry = registry.New()
	b.ledger = escrow.NewLedger(b.tokens, b.items, time.Now)
	b.feeds = pricing.NewFeedBook()
	adapter := pricing.NewAdapter(b.directory)

	b.sequencer = engine.NewSequencer(engine.Config{
		Shards:    cfg.Auction.Shards,
		InboxSize: cfg.Auction.InboxSize,
		DumpPath:  cfg.Auction.DumpPath,
	}, b.stateDump)

	b.Hub = ws.NewHub(b.Metrics)
	b.dispatcher = event.NewDispatcher(logger)
	b.dispatcher.Add("ws", b.Hub)

	b.Service = service.NewAuctionService(service.Deps{
		Registry:   b.registry,
		Ledger:     b.ledger,
		Feeds:      b.feeds,
		Adapter:    adapter,
		Normalizer: pricing.NewNormalizer(b.feeds, adapter),
		Sequencer:  b.sequencer,
		Store:      store,
		Events:     b.dispatcher,
		Metrics:    b.Metrics,
		Clock:      time.Now,
		Operator:   domain.NewAddress(cfg.Auction.Operator),
		Logger:     logger,
	})
	return nil
}

// Start runs the background workers, restores persisted state and applies
// configured default feeds.
func (b *Bootstrap) Start(ctx context.Context) error {
	b.seqDone = make(chan struct{})
	go func() {
		b.sequencer.Run(ctx)
		close(b.seqDone)
	}()
	go b.Hub.Run(ctx)

	for _, feed := range b.httpFeeds {
		if err := feed.Start(ctx); err != nil {
			return err
		}
	}

	if b.Config.NATS.Enabled {
		pub, err := natsbus.Connect(ctx, natsbus.Config{
			URL:     b.Config.NATS.URL,
			Stream:  b.Config.NATS.Stream,
			Subject: b.Config.NATS.Subject,
		})
		if err != nil {
			// events still reach the log and the websocket hub
			slog.Error("NATS unavailable, continuing without it", slog.Any("error", err))
		} else {
			b.publisher = pub
			b.dispatcher.Add("nats", pub)
			slog.Info("✅ NATS JetStream publisher ready")
		}
	}

	if err := b.Service.Recover(ctx); err != nil {
		return err
	}
	b.ledger.VerifyAll()
	b.reconcileSim()

	b.applyDefaultFeeds(ctx)
	slog.Info("✅ Auction engine started", slog.Int("shards", b.Config.Auction.Shards))
	return nil
}

// Handler returns the HTTP API with metrics and the event stream mounted.
func (b *Bootstrap) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		infra.NewPrometheusCollector("nft_auction", b.Metrics),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := api.NewHandler(b.Service, api.Options{
		Events:  b.Storage,
		Stream:  b.Hub,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Chain:   &api.Chain{Tokens: b.tokens, Items: b.items},
	})
	return h.SetupRoutes()
}

// Shutdown stops pollers and closes connections. ctx must already be done
// for the sequencer to drain.
func (b *Bootstrap) Shutdown() {
	for _, feed := range b.httpFeeds {
		feed.Stop()
	}
	if b.seqDone != nil {
		<-b.seqDone
	}
	if b.publisher != nil {
		b.publisher.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close storage", slog.Any("error", err))
		}
	}
}

func (b *Bootstrap) stateDump() any {
	return map[string]any{
		"auctions": b.registry.List(),
		"escrows":  b.ledger.List(),
		"feeds":    b.feeds.List(),
		"refunds":  b.ledger.Owed(),
	}
}

func (b *Bootstrap) seedSim() {
	for _, bal := range b.Config.Sim.Balances {
		asset := domain.NewAsset(bal.Asset)
		account := domain.NewAddress(bal.Account)
		b.tokens.Mint(asset, account, bal.Amount)
		if !asset.IsNative() {
			b.tokens.Approve(asset, account, bal.Amount)
		}
	}
	for _, it := range b.Config.Sim.Items {
		ref := domain.AssetRef{Contract: domain.NewAddress(it.Contract), TokenID: it.TokenID}
		b.items.Mint(ref, domain.NewAddress(it.Owner))
		b.items.Approve(ref, true)
	}
}

// reconcileSim moves whatever the persisted escrow records hold, plus the
// refunds still owed, into the simulated escrow account, since the simulated
// chain does not survive a restart.
func (b *Bootstrap) reconcileSim() {
	escrowAccount := b.tokens.Escrow()
	for _, rec := range b.ledger.List() {
		if rec.HoldsItem {
			b.items.Mint(rec.Ref(), escrowAccount)
		}
		if rec.HoldsFunds {
			b.tokens.Mint(rec.Asset, escrowAccount, rec.Amount)
		}
	}
	for _, owed := range b.ledger.Owed() {
		b.tokens.Mint(owed.Asset, escrowAccount, owed.Amount)
	}
}

func (b *Bootstrap) applyDefaultFeeds(ctx context.Context) {
	existing := make(map[domain.Asset]bool)
	for _, f := range b.Service.ListFeeds(ctx) {
		existing[f.Asset] = true
	}

	operator := b.Service.Operator()
	for rawAsset, ref := range b.Config.Feeds {
		asset := domain.NewAsset(rawAsset)
		if existing[asset] {
			continue
		}
		if _, err := b.Service.SetPriceFeed(ctx, operator, asset, ref); err != nil {
			level := slog.LevelError
			if domain.IsRetriable(err) || errors.Is(err, domain.ErrStaleQuote) {
				level = slog.LevelWarn
			}
			slog.Log(ctx, level, "Default price feed not applied",
				slog.String("asset", asset.String()),
				slog.String("oracle", ref),
				slog.Any("error", err),
			)
		}
	}
}

// Summary describes the running instance for the startup log.
func (b *Bootstrap) Summary() string {
	return fmt.Sprintf("%s %s on %s", b.Config.App.Name, b.Config.App.Version, b.Config.Server.HTTPAddr)
}
