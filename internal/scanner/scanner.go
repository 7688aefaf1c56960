// Package scanner drives the recurring decision cycle: refresh markets, fuse
// fresh signals into probability estimates, size entries for the primary book
// and the arena, then sweep every namespace for exits. A decision either
// becomes a position inside the cycle that produced it or is rejected with a
// recorded reason; nothing spans cycles half-applied.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dkrueger/edgebot/internal/config"
	"github.com/dkrueger/edgebot/internal/domain"
	"github.com/dkrueger/edgebot/internal/edge"
	"github.com/dkrueger/edgebot/internal/platform/estimator"
	"github.com/dkrueger/edgebot/internal/signal"
)

// PrimaryNamespace tags positions opened by the engine-configured book, as
// opposed to arena strategies.
const PrimaryNamespace = "primary"

const (
	// cycleLockKey keeps cycles non-reentrant across processes.
	cycleLockKey = "scan_cycle"

	// alertBudgetKey scopes the per-window primary entry counter.
	alertBudgetKey = "primary_entries"

	// minCycleBudget floors the per-cycle wall-clock timeout.
	minCycleBudget = 180 * time.Second
)

// PrimaryParams maps the engine config section onto the primary namespace's
// parameter set. TP/SL ratios stay zero so the lifecycle tier tables apply;
// trailing, timeout, and the correlation limit match the baseline strategy.
func PrimaryParams(cfg config.EngineConfig) domain.StrategyParams {
	return domain.StrategyParams{
		Name:                    PrimaryNamespace,
		KellyFraction:           cfg.MaxKellyFraction,
		EstimateDiscount:        cfg.EstimateDiscount,
		MinEdge:                 cfg.MinEdge,
		MaxPositionPct:          cfg.MaxPositionPct,
		TrailingEnabled:         true,
		TrailingActivation:      0.5,
		TrailingDistance:        0.30,
		TimeoutHours:            24,
		MaxOpenPositions:        cfg.MaxOpenPositions,
		CorrelatedExposureLimit: 0.25,
		Bankroll:                cfg.SimBankroll,
	}
}

// MarketSource refreshes the tradable market set from the venue.
type MarketSource interface {
	Refresh(ctx context.Context, limit int) ([]domain.Market, error)
}

// Estimator is the optional external probability model. Satisfied by
// estimator.Client.
type Estimator interface {
	Estimate(ctx context.Context, req estimator.Request) (domain.ExternalEstimate, error)
}

// Book is the slice of the position lifecycle the primary namespace drives.
type Book interface {
	TryOpen(ctx context.Context, dec domain.TradeDecision, params domain.StrategyParams, bankroll float64, now time.Time) (domain.Position, bool, error)
	CheckExits(ctx context.Context, params domain.StrategyParams, now time.Time) ([]domain.Position, error)
}

// Arena fans the shared estimate batch out to competing strategy books.
type Arena interface {
	EnsureStates(ctx context.Context, now time.Time) error
	EvaluateBatch(ctx context.Context, batch []domain.ProbabilityEstimate, markets map[string]domain.Market, now time.Time) error
	RunExits(ctx context.Context, now time.Time) ([]domain.Position, error)
}

// Config holds the cycle loop parameters.
type Config struct {
	Interval     time.Duration
	MarketLimit  int
	SignalMaxAge time.Duration

	// AlertLimit bounds primary entries per AlertWindow, spent on the
	// highest edges first. Zero disables the budget.
	AlertLimit  int
	AlertWindow time.Duration

	// MaxConsecutiveFailures turns a persistently failing loop into a fatal
	// error so an external supervisor restarts the process.
	MaxConsecutiveFailures int

	// Primary is the engine-configured namespace's parameter set.
	Primary domain.StrategyParams
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.MarketLimit <= 0 {
		c.MarketLimit = 100
	}
	if c.SignalMaxAge <= 0 {
		c.SignalMaxAge = 24 * time.Hour
	}
	if c.AlertWindow <= 0 {
		c.AlertWindow = time.Hour
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 10
	}
	if c.Primary.Name == "" {
		c.Primary.Name = PrimaryNamespace
	}
	return c
}

// Scanner owns the cycle loop.
type Scanner struct {
	cfg        Config
	markets    MarketSource
	signals    domain.SignalStore
	aggregator *signal.Aggregator
	external   Estimator
	engine     *edge.Engine
	book       Book
	arena      Arena
	positions  domain.PositionStore
	states     domain.StrategyStateStore
	rejections domain.RejectionStore
	limiter    domain.AlertLimiter
	locks      domain.LockManager
	bus        domain.SignalBus
	audit      domain.AuditStore
	logger     *slog.Logger
}

// New creates a Scanner. external and arena may be nil: a nil external
// disables the estimator merge, a nil arena runs the primary namespace alone.
func New(
	cfg Config,
	markets MarketSource,
	signals domain.SignalStore,
	aggregator *signal.Aggregator,
	external Estimator,
	engine *edge.Engine,
	book Book,
	arena Arena,
	positions domain.PositionStore,
	states domain.StrategyStateStore,
	rejections domain.RejectionStore,
	limiter domain.AlertLimiter,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		cfg:        cfg.withDefaults(),
		markets:    markets,
		signals:    signals,
		aggregator: aggregator,
		external:   external,
		engine:     engine,
		book:       book,
		arena:      arena,
		positions:  positions,
		states:     states,
		rejections: rejections,
		limiter:    limiter,
		locks:      locks,
		bus:        bus,
		audit:      audit,
		logger:     logger.With(slog.String("component", "scanner")),
	}
}

// Run seeds strategy state, runs one cycle immediately, then cycles on the
// configured interval until the context is cancelled or too many consecutive
// cycles fail.
func (s *Scanner) Run(ctx context.Context) error {
	now := time.Now().UTC()
	if err := s.seedPrimary(ctx, now); err != nil {
		return err
	}
	if s.arena != nil {
		if err := s.arena.EnsureStates(ctx, now); err != nil {
			return err
		}
	}

	s.logger.Info("scanner starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("market_limit", s.cfg.MarketLimit),
		slog.Bool("arena", s.arena != nil),
		slog.Bool("estimator", s.external != nil),
	)

	failures := 0
	cycle := func() error {
		err := s.RunCycle(ctx, time.Now().UTC())
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, domain.ErrLockHeld):
			s.logger.Info("cycle skipped, lock held elsewhere")
		case ctx.Err() != nil:
			// Shutdown mid-cycle; the select below returns.
		default:
			failures++
			s.logger.Error("cycle failed",
				slog.Int("consecutive", failures),
				slog.String("error", err.Error()),
			)
			s.auditEvent(ctx, "cycle_error", map[string]any{
				"consecutive": failures,
				"error":       err.Error(),
			})
			if failures >= s.cfg.MaxConsecutiveFailures {
				return fmt.Errorf("scanner: %d consecutive cycle failures, last: %w", failures, err)
			}
		}
		return nil
	}

	if err := cycle(); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := cycle(); err != nil {
				return err
			}
		}
	}
}

// RunCycle executes one pass: lock, refresh, fuse, enter, exit, summarize.
// It returns domain.ErrLockHeld untouched when another process owns the
// cycle; any other error failed the cycle.
func (s *Scanner) RunCycle(ctx context.Context, now time.Time) error {
	unlock, err := s.locks.Acquire(ctx, cycleLockKey, 2*s.cycleBudget())
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return err
		}
		return fmt.Errorf("scanner: acquire cycle lock: %w", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cycleBudget())
	defer cancel()
	start := time.Now()

	markets, err := s.refreshMarkets(ctx)
	if err != nil {
		return fmt.Errorf("scanner: refresh markets: %w", err)
	}
	if len(markets) == 0 {
		s.logger.Info("cycle complete, no tradable markets")
		return nil
	}

	batch, byID, signalCount := s.buildBatch(ctx, markets, now)
	if err := ctx.Err(); err != nil {
		return err
	}

	opened, err := s.runPrimary(ctx, batch, byID, now)
	if err != nil {
		return err
	}

	if s.arena != nil {
		if err := s.arena.EvaluateBatch(ctx, batch, byID, now); err != nil {
			return fmt.Errorf("scanner: arena pass: %w", err)
		}
	}

	closed, err := s.book.CheckExits(ctx, s.cfg.Primary, now)
	if err != nil {
		return fmt.Errorf("scanner: primary exits: %w", err)
	}
	if s.arena != nil {
		arenaClosed, err := s.arena.RunExits(ctx, now)
		if err != nil {
			return fmt.Errorf("scanner: arena exits: %w", err)
		}
		closed = append(closed, arenaClosed...)
	}

	s.summarize(ctx, len(markets), signalCount, len(batch), opened, len(closed), time.Since(start))
	return nil
}

// cycleBudget is the hard wall-clock limit for one cycle. A stuck collaborator
// becomes a recoverable cycle failure instead of a wedged process.
func (s *Scanner) cycleBudget() time.Duration {
	if b := 3 * s.cfg.Interval; b > minCycleBudget {
		return b
	}
	return minCycleBudget
}

// seedPrimary mirrors arena state seeding for the primary namespace so status
// surfaces show it from the first cycle.
func (s *Scanner) seedPrimary(ctx context.Context, now time.Time) error {
	_, err := s.states.Get(ctx, PrimaryNamespace)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("scanner: load primary state: %w", err)
	}
	state := domain.StrategyState{
		Strategy:  PrimaryNamespace,
		Bankroll:  s.cfg.Primary.Bankroll,
		UpdatedAt: now,
	}
	if err := s.states.Upsert(ctx, state); err != nil {
		return fmt.Errorf("scanner: seed primary state: %w", err)
	}
	return nil
}

// refreshMarkets pulls the tradable set, retrying transient failures once.
func (s *Scanner) refreshMarkets(ctx context.Context) ([]domain.Market, error) {
	markets, err := s.markets.Refresh(ctx, s.cfg.MarketLimit)
	if err == nil || !domain.IsTransient(err) {
		return markets, err
	}
	s.logger.Warn("market refresh failed, retrying once", slog.String("error", err.Error()))
	return s.markets.Refresh(ctx, s.cfg.MarketLimit)
}

// buildBatch fuses fresh signals into one estimate per market. Markets with
// no usable signals produce nothing; malformed signals are dropped item by
// item. The batch is immutable once built — every namespace reads the same
// estimates.
func (s *Scanner) buildBatch(ctx context.Context, markets []domain.Market, now time.Time) ([]domain.ProbabilityEstimate, map[string]domain.Market, int) {
	batch := make([]domain.ProbabilityEstimate, 0, len(markets))
	byID := make(map[string]domain.Market, len(markets))
	cutoff := now.Add(-s.cfg.SignalMaxAge)

	var used int
	for _, mkt := range markets {
		if ctx.Err() != nil {
			break
		}
		byID[mkt.ID] = mkt

		sigs, err := s.signals.ListFresh(ctx, mkt.ID, cutoff)
		if err != nil {
			s.logger.Warn("signal load failed, market skipped",
				slog.String("market_id", mkt.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		valid := sigs[:0]
		for _, sig := range sigs {
			if err := sig.Validate(); err != nil {
				s.logger.Warn("signal dropped",
					slog.String("signal_id", sig.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			valid = append(valid, sig)
		}
		if len(valid) == 0 {
			continue
		}
		used += len(valid)

		est := s.aggregator.Estimate(mkt, valid, now)
		batch = append(batch, s.mergeExternal(ctx, est, mkt, valid))
	}
	return batch, byID, used
}

// mergeExternal folds the external model's opinion into an aggregated
// estimate. The model is advisory: any failure degrades to the aggregated
// estimate alone, with one retry on transient transport trouble.
func (s *Scanner) mergeExternal(ctx context.Context, est domain.ProbabilityEstimate, mkt domain.Market, sigs []domain.Signal) domain.ProbabilityEstimate {
	if s.external == nil {
		return est
	}

	req := estimator.Request{
		MarketID:    mkt.ID,
		Question:    mkt.Question,
		MarketPrice: mkt.YesPrice,
		Category:    mkt.Category,
	}
	for _, sig := range sigs {
		if sig.Title != "" {
			req.SignalTitles = append(req.SignalTitles, sig.Title)
		}
	}
	if mkt.ExpiresAt != nil {
		req.ExpiresAt = mkt.ExpiresAt.UTC().Format(time.RFC3339)
	}

	ext, err := s.external.Estimate(ctx, req)
	if err != nil && domain.IsTransient(err) {
		ext, err = s.external.Estimate(ctx, req)
	}
	if err != nil {
		s.logger.Warn("external estimate unavailable",
			slog.String("market_id", mkt.ID),
			slog.String("error", err.Error()),
		)
		return est
	}
	return signal.Blend(est, ext, s.cfg.Primary.EstimateDiscount)
}

// runPrimary evaluates the batch for the engine-configured book. Decisions
// are taken best edge first so the per-window alert budget spends itself on
// the strongest entries; a consumed slot stays consumed even when the book's
// guards then reject the open.
func (s *Scanner) runPrimary(ctx context.Context, batch []domain.ProbabilityEstimate, markets map[string]domain.Market, now time.Time) (int, error) {
	params := s.cfg.Primary

	state, err := s.states.Get(ctx, PrimaryNamespace)
	if err != nil {
		return 0, fmt.Errorf("scanner: load primary state: %w", err)
	}
	bankroll := state.Bankroll
	openCost, err := s.positions.SumOpenCost(ctx, PrimaryNamespace)
	if err != nil {
		return 0, fmt.Errorf("scanner: primary open cost: %w", err)
	}
	exposureLeft := bankroll - openCost

	decisions := make([]domain.TradeDecision, 0, len(batch))
	for _, est := range batch {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mkt, ok := markets[est.MarketID]
		if !ok {
			continue
		}
		dec, ok := s.engine.Evaluate(ctx, est, mkt, bankroll, exposureLeft, params, now)
		if !ok {
			continue
		}
		decisions = append(decisions, dec)
	}

	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].FeeAdjustedEdge > decisions[j].FeeAdjustedEdge
	})

	opened := 0
	for i, dec := range decisions {
		if err := ctx.Err(); err != nil {
			return opened, err
		}
		if s.cfg.AlertLimit > 0 {
			ok, err := s.limiter.Allow(ctx, alertBudgetKey, s.cfg.AlertLimit, s.cfg.AlertWindow)
			if err != nil {
				s.logger.Warn("alert budget check failed, allowing entry",
					slog.String("error", err.Error()))
			} else if !ok {
				for _, deferred := range decisions[i:] {
					s.rejectBudget(ctx, deferred)
				}
				s.logger.Info("entry budget exhausted",
					slog.Int("deferred", len(decisions)-i))
				s.auditEvent(ctx, "alert_budget_exhausted", map[string]any{
					"limit":    s.cfg.AlertLimit,
					"window":   s.cfg.AlertWindow.String(),
					"deferred": len(decisions) - i,
				})
				break
			}
		}

		pos, didOpen, err := s.book.TryOpen(ctx, dec, params, bankroll, now)
		if err != nil {
			return opened, fmt.Errorf("scanner: open %s: %w", dec.MarketID, err)
		}
		if !didOpen {
			continue
		}
		opened++
		exposureLeft -= pos.Cost
	}
	return opened, nil
}

func (s *Scanner) rejectBudget(ctx context.Context, dec domain.TradeDecision) {
	if s.rejections == nil {
		return
	}
	err := s.rejections.Insert(ctx, PrimaryNamespace, dec.MarketID, domain.RejectAlertBudget, map[string]any{
		"edge":  dec.FeeAdjustedEdge,
		"limit": s.cfg.AlertLimit,
	})
	if err != nil {
		s.logger.Warn("record rejection failed",
			slog.String("market_id", dec.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scanner) summarize(ctx context.Context, markets, signals, estimates, opened, closed int, took time.Duration) {
	s.logger.Info("cycle complete",
		slog.Int("markets", markets),
		slog.Int("signals", signals),
		slog.Int("estimates", estimates),
		slog.Int("opened", opened),
		slog.Int("closed", closed),
		slog.Duration("took", took),
	)
	evt, _ := json.Marshal(map[string]any{
		"event":     "cycle_complete",
		"markets":   markets,
		"signals":   signals,
		"estimates": estimates,
		"opened":    opened,
		"closed":    closed,
		"took_ms":   took.Milliseconds(),
	})
	if err := s.bus.Publish(ctx, "cycles", evt); err != nil {
		s.logger.Warn("publish cycle event failed", slog.String("error", err.Error()))
	}
}

func (s *Scanner) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
