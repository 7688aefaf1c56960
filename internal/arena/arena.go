// Package arena runs several strategy namespaces over one shared estimate
// batch. Every namespace keeps its own simulated bankroll, open positions,
// cooldowns, and exit rules; nothing crosses between them except the market
// data they all read. At most one strategy additionally mirrors its entries
// onto the exchange through the order executor.
package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkrueger/edgebot/internal/domain"
	"github.com/dkrueger/edgebot/internal/edge"
)

// Book is the slice of the position lifecycle the arena drives.
type Book interface {
	TryOpen(ctx context.Context, dec domain.TradeDecision, params domain.StrategyParams, bankroll float64, now time.Time) (domain.Position, bool, error)
	OpenPending(ctx context.Context, pos domain.Position, now time.Time) (domain.Position, error)
	Cancel(ctx context.Context, positionID string, now time.Time) error
	CheckExits(ctx context.Context, params domain.StrategyParams, now time.Time) ([]domain.Position, error)
}

// BalanceSource reports spendable collateral for live mirroring.
type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}

// Config bounds the live-mirrored order sizes.
type Config struct {
	MaxOrderSize float64 // dollar cap per mirrored order
	MinOrderSize float64 // below this the twin is skipped entirely
}

func (c Config) withDefaults() Config {
	if c.MaxOrderSize <= 0 {
		c.MaxOrderSize = 15
	}
	if c.MinOrderSize <= 0 {
		c.MinOrderSize = 1
	}
	return c
}

// Arena fans one estimate batch out to every active strategy.
type Arena struct {
	cfg       Config
	roster    []domain.StrategyParams
	engine    *edge.Engine
	book      Book
	positions domain.PositionStore
	states    domain.StrategyStateStore
	balance   BalanceSource               // nil disables mirroring
	orders    chan<- domain.OrderRequest  // nil disables mirroring
	logger    *slog.Logger
}

// New creates an Arena. balance and orders may be nil when no strategy
// mirrors live; a roster entry with LiveMirror set is then simulated only.
func New(
	cfg Config,
	roster []domain.StrategyParams,
	engine *edge.Engine,
	book Book,
	positions domain.PositionStore,
	states domain.StrategyStateStore,
	balance BalanceSource,
	orders chan<- domain.OrderRequest,
	logger *slog.Logger,
) *Arena {
	return &Arena{
		cfg:       cfg.withDefaults(),
		roster:    roster,
		engine:    engine,
		book:      book,
		positions: positions,
		states:    states,
		balance:   balance,
		orders:    orders,
		logger:    logger.With(slog.String("component", "arena")),
	}
}

// MirrorNamespace returns the position namespace holding a strategy's live
// twins. Keeping them out of the simulated namespace means the paper book
// stays comparable across strategies whether or not one of them trades real
// money.
func MirrorNamespace(strategy string) string { return "live:" + strategy }

// Roster returns a copy of the active parameter set, for status surfaces.
func (a *Arena) Roster() []domain.StrategyParams {
	out := make([]domain.StrategyParams, len(a.roster))
	copy(out, a.roster)
	return out
}

// EnsureStates seeds a state row for every namespace that lacks one, so the
// leaderboard shows fresh strategies at their starting bankroll instead of
// omitting them until their first close.
func (a *Arena) EnsureStates(ctx context.Context, now time.Time) error {
	for _, params := range a.roster {
		if err := a.ensureState(ctx, params.Name, params.Bankroll, now); err != nil {
			return err
		}
		if params.LiveMirror {
			if err := a.ensureState(ctx, MirrorNamespace(params.Name), 0, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Arena) ensureState(ctx context.Context, ns string, bankroll float64, now time.Time) error {
	_, err := a.states.Get(ctx, ns)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("arena: load state %q: %w", ns, err)
	}
	state := domain.StrategyState{Strategy: ns, Bankroll: bankroll, UpdatedAt: now}
	if err := a.states.Upsert(ctx, state); err != nil {
		return fmt.Errorf("arena: seed state %q: %w", ns, err)
	}
	return nil
}

// EvaluateBatch runs every strategy over the batch concurrently. Within a
// namespace evaluation is sequential in batch order, so exposure accounting
// is deterministic. A strategy whose storage fails aborts the batch; filter
// rejections do not.
func (a *Arena) EvaluateBatch(ctx context.Context, batch []domain.ProbabilityEstimate, markets map[string]domain.Market, now time.Time) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, params := range a.roster {
		params := params
		g.Go(func() error {
			return a.runStrategy(ctx, params, batch, markets, now)
		})
	}
	return g.Wait()
}

func (a *Arena) runStrategy(ctx context.Context, params domain.StrategyParams, batch []domain.ProbabilityEstimate, markets map[string]domain.Market, now time.Time) error {
	state, err := a.loadState(ctx, params.Name, params.Bankroll)
	if err != nil {
		return err
	}
	openCost, err := a.positions.SumOpenCost(ctx, params.Name)
	if err != nil {
		return fmt.Errorf("arena: %s: open cost: %w", params.Name, err)
	}
	exposureLeft := state.Bankroll - openCost

	opened := 0
	for _, est := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		mkt, ok := markets[est.MarketID]
		if !ok {
			continue
		}
		dec, ok := a.engine.Evaluate(ctx, est, mkt, state.Bankroll, exposureLeft, params, now)
		if !ok {
			continue
		}
		pos, didOpen, err := a.book.TryOpen(ctx, dec, params, state.Bankroll, now)
		if err != nil {
			return fmt.Errorf("arena: %s: open %s: %w", params.Name, est.MarketID, err)
		}
		if !didOpen {
			continue
		}
		opened++
		exposureLeft -= pos.Cost
		if params.LiveMirror {
			a.mirror(ctx, pos, mkt, params, now)
		}
	}

	a.logger.Info("strategy pass complete",
		slog.String("strategy", params.Name),
		slog.Int("evaluated", len(batch)),
		slog.Int("opened", opened),
		slog.Float64("bankroll", state.Bankroll),
		slog.Float64("exposure_left", exposureLeft))
	return nil
}

// mirror scales a freshly opened simulated position down to real balance and
// hands a pending twin to the executor. Every failure here is logged and
// swallowed: the simulated book must never notice that live execution had a
// bad day.
func (a *Arena) mirror(ctx context.Context, sim domain.Position, mkt domain.Market, params domain.StrategyParams, now time.Time) {
	if a.balance == nil || a.orders == nil {
		return
	}
	real, err := a.balance.Balance(ctx)
	if err != nil {
		a.logger.Warn("mirror skipped, balance unavailable",
			slog.String("position", sim.ID), slog.Any("error", err))
		return
	}
	if real <= 0 || params.Bankroll <= 0 {
		return
	}

	scale := real / params.Bankroll
	cost := sim.Cost * scale
	if cost > a.cfg.MaxOrderSize {
		cost = a.cfg.MaxOrderSize
	}
	if cost < a.cfg.MinOrderSize {
		a.logger.Debug("mirror skipped, scaled below minimum",
			slog.String("position", sim.ID), slog.Float64("cost", cost))
		return
	}
	shares := math.Floor(cost / sim.EntryPrice)
	if shares < 1 {
		return
	}
	cost = shares * sim.EntryPrice

	twin := sim
	twin.ID = "" // OpenPending assigns a fresh one
	twin.Strategy = MirrorNamespace(params.Name)
	twin.Shares = shares
	twin.FilledShares = 0
	twin.Cost = cost
	twin, err = a.book.OpenPending(ctx, twin, now)
	if err != nil {
		a.logger.Warn("mirror twin not recorded",
			slog.String("market", sim.MarketID), slog.Any("error", err))
		return
	}

	tokenID := mkt.YesToken()
	if sim.Direction == domain.BuyNo {
		tokenID = mkt.NoToken()
	}
	req := domain.OrderRequest{
		MarketID:   sim.MarketID,
		TokenID:    tokenID,
		PositionID: twin.ID,
		Strategy:   twin.Strategy,
		Side:       domain.OrderSideBuy,
		Direction:  sim.Direction,
		Price:      sim.EntryPrice,
		Size:       shares,
	}
	if mkt.ExpiresAt != nil {
		req.ExpiresAt = *mkt.ExpiresAt
	}

	select {
	case a.orders <- req:
		a.logger.Info("mirror twin queued",
			slog.String("position", twin.ID),
			slog.String("market", sim.MarketID),
			slog.Float64("shares", shares),
			slog.Float64("cost", cost))
	default:
		a.logger.Warn("mirror queue full, abandoning twin", slog.String("position", twin.ID))
		if err := a.book.Cancel(ctx, twin.ID, now); err != nil {
			a.logger.Warn("abandon queued twin",
				slog.String("position", twin.ID), slog.Any("error", err))
		}
	}
}

// RunExits sweeps every namespace for exit conditions and collects the
// closed positions. The book settles each close into its strategy state;
// mirror namespaces are swept with their parent's exit parameters.
func (a *Arena) RunExits(ctx context.Context, now time.Time) ([]domain.Position, error) {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var closed []domain.Position
	for _, params := range a.roster {
		params := params
		g.Go(func() error {
			done, err := a.sweepNamespace(ctx, params, now)
			if err != nil {
				return err
			}
			if params.LiveMirror {
				mp := params
				mp.Name = MirrorNamespace(params.Name)
				mp.Bankroll = 0
				liveDone, err := a.sweepNamespace(ctx, mp, now)
				if err != nil {
					return err
				}
				done = append(done, liveDone...)
			}
			if len(done) > 0 {
				mu.Lock()
				closed = append(closed, done...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return closed, nil
}

func (a *Arena) sweepNamespace(ctx context.Context, params domain.StrategyParams, now time.Time) ([]domain.Position, error) {
	done, err := a.book.CheckExits(ctx, params, now)
	if err != nil {
		return nil, fmt.Errorf("arena: %s: exits: %w", params.Name, err)
	}
	return done, nil
}

func (a *Arena) loadState(ctx context.Context, ns string, initialBankroll float64) (domain.StrategyState, error) {
	state, err := a.states.Get(ctx, ns)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.StrategyState{Strategy: ns, Bankroll: initialBankroll}, nil
	case err != nil:
		return domain.StrategyState{}, fmt.Errorf("arena: load state %q: %w", ns, err)
	}
	return state, nil
}

// Standing is one leaderboard row.
type Standing struct {
	Strategy    string  `json:"strategy"`
	Bankroll    float64 `json:"bankroll"`
	RealizedPnL float64 `json:"realized_pnl"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	OpenCount   int     `json:"open_count"`
	OpenCost    float64 `json:"open_cost"`
	Live        bool    `json:"live"`
}

// Leaderboard joins persisted strategy books with live open-position
// aggregates, sorted by bankroll descending.
func (a *Arena) Leaderboard(ctx context.Context) ([]Standing, error) {
	all, err := a.states.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("arena: list states: %w", err)
	}

	liveNS := make(map[string]bool, 1)
	for _, p := range a.roster {
		if p.LiveMirror {
			liveNS[MirrorNamespace(p.Name)] = true
		}
	}

	out := make([]Standing, 0, len(all))
	for _, st := range all {
		count, err := a.positions.CountOpen(ctx, st.Strategy)
		if err != nil {
			return nil, fmt.Errorf("arena: count open %q: %w", st.Strategy, err)
		}
		cost, err := a.positions.SumOpenCost(ctx, st.Strategy)
		if err != nil {
			return nil, fmt.Errorf("arena: open cost %q: %w", st.Strategy, err)
		}
		out = append(out, Standing{
			Strategy:    st.Strategy,
			Bankroll:    st.Bankroll,
			RealizedPnL: st.RealizedPnL,
			Wins:        st.Wins,
			Losses:      st.Losses,
			WinRate:     st.WinRate(),
			OpenCount:   count,
			OpenCost:    cost,
			Live:        liveNS[st.Strategy],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bankroll != out[j].Bankroll {
			return out[i].Bankroll > out[j].Bankroll
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out, nil
}
