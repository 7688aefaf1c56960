package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkrueger/edgebot/internal/arena"
	"github.com/dkrueger/edgebot/internal/config"
	"github.com/dkrueger/edgebot/internal/crypto"
	"github.com/dkrueger/edgebot/internal/domain"
	"github.com/dkrueger/edgebot/internal/edge"
	"github.com/dkrueger/edgebot/internal/executor"
	"github.com/dkrueger/edgebot/internal/feed"
	"github.com/dkrueger/edgebot/internal/lifecycle"
	"github.com/dkrueger/edgebot/internal/notify"
	"github.com/dkrueger/edgebot/internal/platform/estimator"
	"github.com/dkrueger/edgebot/internal/platform/polymarket"
	"github.com/dkrueger/edgebot/internal/scanner"
	"github.com/dkrueger/edgebot/internal/server"
	"github.com/dkrueger/edgebot/internal/server/handler"
	"github.com/dkrueger/edgebot/internal/server/ws"
	"github.com/dkrueger/edgebot/internal/service"
	"github.com/dkrueger/edgebot/internal/signal"
)

// maxFeedAssets caps the WebSocket subscription size.
const maxFeedAssets = 100

// leaderboardDigestEvery is how often arena standings are pushed to the
// notifier.
const leaderboardDigestEvery = 24 * time.Hour

// ScanMode runs the full decision loop with simulated fills only: signal
// intake, the cycle scanner, the strategy arena, the real-time price feed,
// and the read-only API.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startTrading(ctx, g, deps, false); err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}
	return g.Wait()
}

// LiveMode is ScanMode plus the execution mirror: the elected strategy's
// simulated entries are shadowed by real CLOB orders.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode",
		slog.String("live_strategy", a.cfg.Arena.LiveStrategy),
	)

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startTrading(ctx, g, deps, true); err != nil {
		return fmt.Errorf("live mode: %w", err)
	}
	return g.Wait()
}

// MonitorMode serves the read-only API over existing data. No signals are
// consumed and no positions are opened.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	marketSvc := service.NewMarketService(
		polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost),
		deps.MarketStore, deps.MarketCache, deps.SignalBus, a.logger,
	)
	a.startHTTPServer(ctx, g, deps, marketSvc, nil)

	return g.Wait()
}

// startTrading assembles the decision loop shared by scan and live modes and
// registers its goroutines on g. With live set, the arena additionally
// mirrors the elected strategy's entries through the order executor.
func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies, live bool) error {
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
	marketSvc := service.NewMarketService(gamma, deps.MarketStore, deps.MarketCache, deps.SignalBus, a.logger)
	priceSvc := service.NewPriceService(deps.PriceCache, deps.BookCache, deps.SignalBus, a.logger)

	// Signal intake: drain the Redis stream into Postgres.
	intake := service.NewSignalIntake(service.IntakeConfig{
		MaxAge: a.cfg.Scanner.SignalMaxAge.Duration,
	}, deps.SignalBus, deps.SignalStore, a.logger)
	g.Go(func() error {
		return intake.Run(ctx)
	})

	// Position lifecycle, shared by the primary namespace and the arena.
	book := lifecycle.NewManager(
		lifecycle.Config{CooldownTTL: a.cfg.Scanner.CooldownTTL.Duration},
		deps.PositionStore, deps.StateStore, deps.RejectionStore,
		deps.CooldownCache, deps.MarketCache, deps.PriceCache,
		deps.SignalBus, deps.AuditStore, deps.Notifier,
		arena.NewFamilies(a.cfg.Arena.Correlation), a.logger,
	)

	onReject := func(ctx context.Context, strategy string, est domain.ProbabilityEstimate, reason domain.RejectReason, detail map[string]any) {
		if err := deps.RejectionStore.Insert(ctx, strategy, est.MarketID, reason, detail); err != nil {
			a.logger.WarnContext(ctx, "record rejection failed",
				slog.String("market_id", est.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Live mirror: signer, CLOB client, and the order executor. A build
	// failure degrades to simulation only so the decision loop keeps running.
	var balance arena.BalanceSource
	var orders chan domain.OrderRequest
	if live {
		exec, ordersCh, err := a.buildMirror(ctx, deps, book)
		if err != nil {
			a.logger.WarnContext(ctx, "live mode: mirror build failed, simulating only",
				slog.String("error", err.Error()),
			)
		} else {
			balance = exec
			orders = ordersCh
			g.Go(func() error {
				return exec.Run(ctx)
			})
		}
	}

	// Strategy arena: the roster competes on the shared estimate batch.
	var ar *arena.Arena
	if a.cfg.Arena.Enabled {
		overrides, err := config.LoadStrategyOverrides(a.cfg.Arena.StrategyFile)
		if err != nil {
			a.logger.WarnContext(ctx, "strategy overrides unavailable",
				slog.String("file", a.cfg.Arena.StrategyFile),
				slog.String("error", err.Error()),
			)
		}
		roster, err := arena.BuildRoster(a.cfg.Arena, overrides)
		if err != nil {
			return fmt.Errorf("build roster: %w", err)
		}
		arenaEngine := edge.NewEngine(edge.DiscountedSizer(), a.cfg.Engine.MinShares, onReject, a.logger)
		ar = arena.New(arena.Config{
			MaxOrderSize: a.cfg.Live.MaxOrderSize,
			MinOrderSize: a.cfg.Live.MinOrderSize,
		}, roster, arenaEngine, book, deps.PositionStore, deps.StateStore, balance, orders, a.logger)

		digest := ar
		g.Go(func() error {
			return a.leaderboardDigest(ctx, deps, digest)
		})
	}

	// External estimator is optional; without it the scanner trades on the
	// aggregated signal estimate alone.
	var external scanner.Estimator
	if a.cfg.Estimator.Enabled {
		external = estimator.New(a.cfg.Estimator.BaseURL, a.cfg.Estimator.ApiKey, a.cfg.Estimator.Timeout.Duration)
	}

	engine := edge.NewEngine(edge.ConfidenceSizer(a.cfg.Engine.MaxKellyFraction), a.cfg.Engine.MinShares, onReject, a.logger)
	var arenaRunner scanner.Arena
	if ar != nil {
		arenaRunner = ar
	}
	scn := scanner.New(scanner.Config{
		Interval:               a.cfg.Scanner.Interval.Duration,
		MarketLimit:            a.cfg.Scanner.MarketLimit,
		SignalMaxAge:           a.cfg.Scanner.SignalMaxAge.Duration,
		AlertLimit:             a.cfg.Scanner.AlertLimit,
		AlertWindow:            a.cfg.Scanner.AlertWindow.Duration,
		MaxConsecutiveFailures: a.cfg.Scanner.MaxConsecutiveFailures,
		Primary:                scanner.PrimaryParams(a.cfg.Engine),
	}, marketSvc, deps.SignalStore, signal.NewAggregator(nil, a.logger), external,
		engine, book, arenaRunner, deps.PositionStore, deps.StateStore,
		deps.RejectionStore, deps.AlertLimiter, deps.LockManager,
		deps.SignalBus, deps.AuditStore, a.logger)
	g.Go(func() error {
		err := scn.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			// The context is going down with us; alert on a fresh one.
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if nerr := deps.Notifier.Notify(nctx, notify.EventCycleError, "Trading loop stopped", err.Error()); nerr != nil {
				a.logger.Warn("cycle error alert failed", slog.String("error", nerr.Error()))
			}
		}
		return err
	})

	// Real-time prices keep exit checks honest between cycles.
	if a.cfg.Polymarket.WsHost != "" {
		a.startPriceFeed(ctx, g, deps, marketSvc, priceSvc)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, marketSvc, ar)
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return nil
}

// buildMirror creates the live execution pieces: wallet key, EIP-712 signer,
// authenticated CLOB client, and the order executor consuming mirror
// requests. Configured HMAC credentials are preferred; otherwise the key is
// derived through the CLOB auth flow.
func (a *App) buildMirror(ctx context.Context, deps *Dependencies, book executor.Book) (*executor.Executor, chan domain.OrderRequest, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build mirror: load key: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("build mirror: create signer: %w", err)
	}

	var clob *polymarket.ClobClient
	if a.cfg.Polymarket.ApiKey != "" && a.cfg.Polymarket.ApiSecret != "" {
		clob = polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer, &crypto.HMACAuth{
			Key:        a.cfg.Polymarket.ApiKey,
			Secret:     a.cfg.Polymarket.ApiSecret,
			Passphrase: a.cfg.Polymarket.ApiPassphrase,
		}, a.cfg.Polymarket.SignatureType)
	} else {
		clob = polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer, nil, a.cfg.Polymarket.SignatureType)
		if err := clob.DeriveAPIKey(ctx); err != nil {
			return nil, nil, fmt.Errorf("build mirror: derive API key: %w", err)
		}
	}

	orders := make(chan domain.OrderRequest, 64)
	exec := executor.New(executor.Config{
		MaxOrderSize:   a.cfg.Live.MaxOrderSize,
		MinOrderSize:   a.cfg.Live.MinOrderSize,
		BalanceReserve: a.cfg.Live.BalanceReserve,
		StaleOrderAge:  time.Duration(a.cfg.Live.StaleOrderHours * float64(time.Hour)),
		FillPollEvery:  a.cfg.Live.FillPollEvery.Duration,
		SignatureType:  a.cfg.Polymarket.SignatureType,
	}, orders, deps.OrderStore, book, deps.MarketCache, deps.PriceCache,
		clob, signer, deps.SignalBus, deps.AuditStore, a.logger)

	return exec, orders, nil
}

// startPriceFeed connects the Polymarket WebSocket and keeps its tracked
// asset set aligned with the active universe.
func (a *App) startPriceFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, marketSvc *service.MarketService, priceSvc *service.PriceService) {
	pf := feed.NewPriceFeed(
		a.cfg.Polymarket.WsHost,
		func(ctx context.Context, top domain.TopBook) { _ = priceSvc.HandleBook(ctx, top) },
		func(ctx context.Context, change domain.PriceChange) { _ = priceSvc.HandlePriceChange(ctx, change) },
		func(ctx context.Context, trade domain.LastTradePrice) { _ = priceSvc.HandleLastTrade(ctx, trade) },
		a.logger,
	)

	// Seed the universe so the first connection has assets to follow.
	if _, err := marketSvc.Refresh(ctx, a.cfg.Scanner.MarketLimit); err != nil {
		a.logger.WarnContext(ctx, "price feed: initial market refresh failed",
			slog.String("error", err.Error()),
		)
	}
	if ids := a.watchAssetIDs(ctx, deps.MarketStore, maxFeedAssets); len(ids) > 0 {
		_ = pf.Track(ctx, ids)
	}

	g.Go(func() error {
		defer pf.Close()
		return pf.Run(ctx)
	})

	// Follow the universe as it shifts between cycles.
	interval := a.cfg.Scanner.Interval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				ids := a.watchAssetIDs(ctx, deps.MarketStore, maxFeedAssets)
				if len(ids) == 0 {
					continue
				}
				if err := pf.Track(ctx, ids); err != nil {
					a.logger.WarnContext(ctx, "price feed: retrack failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// startHTTPServer registers the WebSocket hub and REST handlers and runs the
// server until the context is cancelled. ar may be nil; the strategy routes
// are then not registered.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, marketSvc *service.MarketService, ar *arena.Arena) {
	mode := strings.ToLower(a.cfg.Mode)
	liveStrategy := ""
	if mode == "live" {
		liveStrategy = a.cfg.Arena.LiveStrategy
	}
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:         mode,
		LiveStrategy: liveStrategy,
		StartedAt:    startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	strategies := 1 // the primary namespace always trades
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.PG, deps.Cache, a.logger),
		Markets:   handler.NewMarketHandler(marketSvc, a.logger),
		Positions: handler.NewPositionHandler(deps.PositionStore, a.logger),
		Orders:    handler.NewOrderHandler(deps.OrderStore, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if ar != nil {
		handlers.Strategies = handler.NewStrategyHandler(ar, a.logger)
		strategies += len(ar.Roster())
	}
	handlers.Status = handler.NewStatusHandler(mode, liveStrategy, strategies, startedAt)

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.AlertLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// archiveLoop periodically copies closed positions and aged audit entries to
// object storage, then prunes the archived audit rows. Positions stay in
// Postgres; only the audit trail is rotated out.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	runOnce := func(now time.Time) {
		cutoff := now.Add(-retention)

		if n, err := deps.Archiver.ArchiveClosedPositions(ctx, cutoff); err != nil {
			a.logger.ErrorContext(ctx, "archive: closed positions failed",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			a.logger.InfoContext(ctx, "archive: closed positions uploaded",
				slog.Int64("count", n),
			)
		}

		n, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: audit trail failed",
				slog.String("error", err.Error()),
			)
			return
		}
		if n == 0 {
			return
		}
		pruned, err := deps.AuditPruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: audit prune failed",
				slog.String("error", err.Error()),
			)
			return
		}
		a.logger.InfoContext(ctx, "archive: audit trail rotated",
			slog.Int64("archived", n),
			slog.Int64("pruned", pruned),
		)
	}

	runOnce(time.Now().UTC())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runOnce(time.Now().UTC())
		}
	}
}

// leaderboardDigest posts the arena standings to the notifier once a day.
func (a *App) leaderboardDigest(ctx context.Context, deps *Dependencies, ar *arena.Arena) error {
	ticker := time.NewTicker(leaderboardDigestEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			standings, err := ar.Leaderboard(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "leaderboard digest failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if len(standings) == 0 {
				continue
			}
			if err := deps.Notifier.Notify(ctx, notify.EventLeaderboard, "Strategy leaderboard", formatStandings(standings)); err != nil {
				a.logger.WarnContext(ctx, "leaderboard digest: notify failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// formatStandings renders the top leaderboard rows for a chat message.
func formatStandings(standings []arena.Standing) string {
	const maxRows = 8
	var b strings.Builder
	for i, s := range standings {
		if i >= maxRows {
			fmt.Fprintf(&b, "… and %d more", len(standings)-maxRows)
			break
		}
		live := ""
		if s.Live {
			live = " [live]"
		}
		fmt.Fprintf(&b, "%d. %s%s  bankroll %.2f  pnl %+.2f  win %.0f%%  open %d\n",
			i+1, s.Strategy, live, s.Bankroll, s.RealizedPnL, s.WinRate*100, s.OpenCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

// watchAssetIDs returns token IDs from active markets for WS subscription
// (up to maxAssets).
func (a *App) watchAssetIDs(ctx context.Context, store domain.MarketStore, maxAssets int) []string {
	markets, err := store.ListActive(ctx, domain.ListOpts{Limit: 200})
	if err != nil {
		a.logger.WarnContext(ctx, "watch assets: list active failed", slog.String("error", err.Error()))
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, m := range markets {
		for _, tid := range m.TokenIDs {
			if tid == "" || seen[tid] {
				continue
			}
			seen[tid] = true
			ids = append(ids, tid)
			if len(ids) >= maxAssets {
				return ids
			}
		}
	}
	return ids
}
