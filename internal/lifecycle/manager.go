// Package lifecycle owns positions from entry guards through exit. Each
// strategy namespace keeps an isolated book: its own open set, cooldowns,
// exposure budget, and bankroll. Guards and exits are evaluated sequentially
// within a namespace; different namespaces never share state.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dkrueger/edgebot/internal/domain"
)

// Entry price window re-checked at open time. Decisions normally arrive from
// the edge engine already inside it; fills routed from other paths do not.
const (
	minEntryPrice = 0.03
	maxEntryPrice = 0.999
)

// Alerter pushes human-facing notifications. Satisfied by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// FamilyMatcher reports which correlated keyword families a market question
// belongs to. A question can belong to several.
type FamilyMatcher interface {
	Match(question string) []string
}

// Config tunes the guards shared by every namespace.
type Config struct {
	// CooldownTTL blocks re-entry on a market after an open or a close.
	CooldownTTL time.Duration
	// ExposureReserve is the fraction of bankroll open cost may occupy.
	ExposureReserve float64
}

func (c Config) withDefaults() Config {
	if c.CooldownTTL <= 0 {
		c.CooldownTTL = 4 * time.Hour
	}
	if c.ExposureReserve <= 0 {
		c.ExposureReserve = 1.0
	}
	return c
}

// Manager opens, fills, monitors, and closes positions for any namespace.
type Manager struct {
	cfg        Config
	positions  domain.PositionStore
	states     domain.StrategyStateStore
	rejections domain.RejectionStore
	cooldown   domain.CooldownCache
	markets    domain.MarketCache
	prices     domain.PriceCache
	bus        domain.SignalBus
	audit      domain.AuditStore
	notifier   Alerter
	families   FamilyMatcher
	logger     *slog.Logger
}

// NewManager creates a Manager. notifier and families may be nil; a nil
// families matcher disables the correlated-exposure guard.
func NewManager(
	cfg Config,
	positions domain.PositionStore,
	states domain.StrategyStateStore,
	rejections domain.RejectionStore,
	cooldown domain.CooldownCache,
	markets domain.MarketCache,
	prices domain.PriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Alerter,
	families FamilyMatcher,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:        cfg.withDefaults(),
		positions:  positions,
		states:     states,
		rejections: rejections,
		cooldown:   cooldown,
		markets:    markets,
		prices:     prices,
		bus:        bus,
		audit:      audit,
		notifier:   notifier,
		families:   families,
		logger:     logger.With(slog.String("component", "lifecycle")),
	}
}

// TryOpen runs the namespace guards for a sized decision and opens a
// simulated position when they all pass. A guard rejection returns
// (zero, false, nil) after recording the reason; the error return is
// reserved for storage failures.
func (m *Manager) TryOpen(ctx context.Context, dec domain.TradeDecision, params domain.StrategyParams, bankroll float64, now time.Time) (domain.Position, bool, error) {
	ns := params.Name

	if dec.EntryPrice < minEntryPrice {
		m.rejectOpen(ctx, ns, dec, domain.RejectLotteryTicket, map[string]any{"entry_price": dec.EntryPrice})
		return domain.Position{}, false, nil
	}
	if dec.EntryPrice >= maxEntryPrice {
		m.rejectOpen(ctx, ns, dec, domain.RejectPriceTooHigh, map[string]any{"entry_price": dec.EntryPrice})
		return domain.Position{}, false, nil
	}

	open, err := m.positions.GetOpen(ctx, ns)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("lifecycle: load open positions for %q: %w", ns, err)
	}

	if len(open) >= params.MaxOpenPositions {
		m.rejectOpen(ctx, ns, dec, domain.RejectMaxPositions, map[string]any{
			"open": len(open),
			"max":  params.MaxOpenPositions,
		})
		return domain.Position{}, false, nil
	}

	for _, p := range open {
		if p.MarketID == dec.MarketID {
			m.rejectOpen(ctx, ns, dec, domain.RejectDuplicateMarket, map[string]any{"position_id": p.ID})
			return domain.Position{}, false, nil
		}
	}

	if m.onCooldown(ctx, ns, dec.MarketID, now) {
		m.rejectOpen(ctx, ns, dec, domain.RejectCooldownActive, nil)
		return domain.Position{}, false, nil
	}

	if dec.Confidence < params.MinConfidence {
		m.rejectOpen(ctx, ns, dec, domain.RejectBelowMinConf, map[string]any{
			"confidence":     dec.Confidence,
			"min_confidence": params.MinConfidence,
		})
		return domain.Position{}, false, nil
	}

	if m.families != nil && params.CorrelatedExposureLimit > 0 {
		if family, cost, hit := m.correlatedExposure(dec, open, bankroll, params.CorrelatedExposureLimit); hit {
			m.rejectOpen(ctx, ns, dec, domain.RejectCorrelatedExp, map[string]any{
				"family":          family,
				"correlated_cost": cost,
				"limit":           bankroll * params.CorrelatedExposureLimit,
			})
			return domain.Position{}, false, nil
		}
	}

	var openCost float64
	for _, p := range open {
		openCost += p.Cost
	}
	budget := bankroll * m.cfg.ExposureReserve
	if openCost+dec.PositionSize > budget {
		m.rejectOpen(ctx, ns, dec, domain.RejectExposureBudget, map[string]any{
			"open_cost": openCost,
			"cost":      dec.PositionSize,
			"budget":    budget,
		})
		return domain.Position{}, false, nil
	}

	target, stop := ExitLevels(dec.EntryPrice, dec.SideProbability(), dec.Confidence, dec.PositionSize/bankroll, params)

	pos := domain.Position{
		ID:           uuid.NewString(),
		MarketID:     dec.MarketID,
		Question:     dec.Question,
		Strategy:     ns,
		Direction:    dec.Direction,
		EntryPrice:   dec.EntryPrice,
		CurrentPrice: dec.EntryPrice,
		PeakPrice:    dec.EntryPrice,
		Shares:       float64(dec.ExpectedShares),
		FilledShares: float64(dec.ExpectedShares),
		Cost:         dec.PositionSize,
		TakeProfit:   target,
		StopLoss:     stop,
		Confidence:   dec.Confidence,
		Probability:  dec.Probability,
		Status:       domain.PositionStatusOpen,
		OpenedAt:     now,
		FilledAt:     &now,
		UpdatedAt:    now,
	}

	if err := m.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, false, fmt.Errorf("lifecycle: create position: %w", err)
	}

	if err := m.cooldown.Mark(ctx, ns, pos.MarketID, m.cfg.CooldownTTL); err != nil {
		m.logger.WarnContext(ctx, "lifecycle: cooldown mark failed",
			slog.String("market_id", pos.MarketID),
			slog.String("error", err.Error()),
		)
	}

	m.publishPosition(ctx, "position_opened", pos)
	m.auditEvent(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"market":      pos.MarketID,
		"strategy":    ns,
		"direction":   string(pos.Direction),
		"entry_price": pos.EntryPrice,
		"shares":      pos.Shares,
		"cost":        pos.Cost,
		"target":      pos.TakeProfit,
		"stop":        pos.StopLoss,
	})
	m.notify(ctx, "position_opened", "Position opened", fmt.Sprintf(
		"%s %s %.0f shares @ %.3f, target %.3f stop %.3f\n%s",
		ns, pos.Direction, pos.Shares, pos.EntryPrice, pos.TakeProfit, pos.StopLoss, pos.Question,
	))

	m.logger.InfoContext(ctx, "lifecycle: position opened",
		slog.String("position_id", pos.ID),
		slog.String("strategy", ns),
		slog.String("market_id", pos.MarketID),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("cost", pos.Cost),
	)
	return pos, true, nil
}

// OpenPending records a live-mirrored entry awaiting exchange fills. The
// caller supplies entry levels copied from the simulated twin; status and
// fill bookkeeping are reset here.
func (m *Manager) OpenPending(ctx context.Context, pos domain.Position, now time.Time) (domain.Position, error) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	pos.Status = domain.PositionStatusPending
	pos.FilledShares = 0
	pos.FilledAt = nil
	pos.OpenedAt = now
	pos.UpdatedAt = now

	if err := m.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle: create pending position: %w", err)
	}

	m.auditEvent(ctx, "position_pending", map[string]any{
		"position_id": pos.ID,
		"market":      pos.MarketID,
		"strategy":    pos.Strategy,
		"shares":      pos.Shares,
	})
	m.logger.InfoContext(ctx, "lifecycle: pending position recorded",
		slog.String("position_id", pos.ID),
		slog.String("strategy", pos.Strategy),
		slog.String("market_id", pos.MarketID),
	)
	return pos, nil
}

// ApplyFill records the cumulative filled share count for a pending or
// partially filled position, opening it once fills cover the request.
func (m *Manager) ApplyFill(ctx context.Context, positionID string, filledShares float64, now time.Time) (domain.Position, error) {
	pos, err := m.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle: get position %q: %w", positionID, err)
	}
	if pos.IsTerminal() {
		return domain.Position{}, fmt.Errorf("lifecycle: fill on %s position %q: %w", pos.Status, positionID, domain.ErrDataIntegrity)
	}
	if filledShares < pos.FilledShares {
		return domain.Position{}, fmt.Errorf("lifecycle: fill regression %f -> %f on %q: %w", pos.FilledShares, filledShares, positionID, domain.ErrDataIntegrity)
	}

	pos.FilledShares = filledShares
	pos.UpdatedAt = now

	switch {
	case filledShares >= pos.Shares && pos.Status != domain.PositionStatusOpen:
		if err := pos.Transition(domain.PositionStatusOpen); err != nil {
			return domain.Position{}, err
		}
		pos.FilledAt = &now
	case filledShares > 0 && pos.Status == domain.PositionStatusPending:
		if err := pos.Transition(domain.PositionStatusPartial); err != nil {
			return domain.Position{}, err
		}
	}

	if err := m.positions.Update(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle: update position %q: %w", positionID, err)
	}

	m.auditEvent(ctx, "position_fill", map[string]any{
		"position_id":   pos.ID,
		"filled_shares": pos.FilledShares,
		"shares":        pos.Shares,
		"status":        string(pos.Status),
	})
	return pos, nil
}

// Cancel abandons a position that never fully filled. Open and closed
// positions refuse the transition.
func (m *Manager) Cancel(ctx context.Context, positionID string, now time.Time) error {
	pos, err := m.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("lifecycle: get position %q: %w", positionID, err)
	}
	if err := pos.Transition(domain.PositionStatusCancelled); err != nil {
		return err
	}
	pos.UpdatedAt = now
	closedAt := now
	pos.ClosedAt = &closedAt

	if err := m.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("lifecycle: update position %q: %w", positionID, err)
	}

	m.auditEvent(ctx, "position_cancelled", map[string]any{
		"position_id":   pos.ID,
		"strategy":      pos.Strategy,
		"filled_shares": pos.FilledShares,
	})
	m.logger.InfoContext(ctx, "lifecycle: position cancelled",
		slog.String("position_id", pos.ID),
		slog.String("strategy", pos.Strategy),
	)
	return nil
}

// CheckExits refreshes prices for a namespace's open positions and closes
// those whose exit rules fire. Rolling exit state (peak, trailing, tightened
// stop) is persisted even when no rule fires. Returns the closed positions.
// A cancelled context stops the sweep between positions; the position being
// evaluated always completes.
func (m *Manager) CheckExits(ctx context.Context, params domain.StrategyParams, now time.Time) ([]domain.Position, error) {
	open, err := m.positions.GetOpen(ctx, params.Name)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load open positions for %q: %w", params.Name, err)
	}

	var closed []domain.Position
	for _, pos := range open {
		if ctx.Err() != nil {
			return closed, nil
		}
		// Pending and partial fills belong to the fill poller.
		if pos.Status != domain.PositionStatusOpen {
			continue
		}

		yesPrice, ok := m.yesPrice(ctx, pos.MarketID)
		if !ok {
			continue
		}
		sidePrice := yesPrice
		if pos.Direction == domain.BuyNo {
			sidePrice = 1 - yesPrice
		}
		if sidePrice <= 0 {
			continue
		}

		reason, shouldClose := EvaluateExit(&pos, sidePrice, params, now)
		if !shouldClose {
			pos.UpdatedAt = now
			if err := m.positions.Update(ctx, pos); err != nil {
				m.logger.WarnContext(ctx, "lifecycle: persist exit state failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		if err := m.close(ctx, &pos, reason, sidePrice, now); err != nil {
			m.logger.ErrorContext(ctx, "lifecycle: close failed",
				slog.String("position_id", pos.ID),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
			continue
		}
		closed = append(closed, pos)
	}
	return closed, nil
}

// Close closes one position at the given side price for the given reason.
// Used by operator tooling; cycle exits go through CheckExits.
func (m *Manager) Close(ctx context.Context, positionID string, sidePrice float64, reason domain.ExitReason, now time.Time) (domain.Position, error) {
	pos, err := m.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle: get position %q: %w", positionID, err)
	}
	if err := m.close(ctx, &pos, reason, sidePrice, now); err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

func (m *Manager) close(ctx context.Context, pos *domain.Position, reason domain.ExitReason, sidePrice float64, now time.Time) error {
	if err := pos.Transition(domain.PositionStatusClosed); err != nil {
		return err
	}
	pnl := pos.PnLAt(sidePrice)
	pos.CurrentPrice = sidePrice
	pos.ExitPrice = sidePrice
	pos.ExitReason = reason
	pos.RealizedPnL = pnl
	closedAt := now
	pos.ClosedAt = &closedAt
	pos.UpdatedAt = now

	if err := m.positions.Update(ctx, *pos); err != nil {
		return fmt.Errorf("lifecycle: persist close of %q: %w", pos.ID, err)
	}

	// Fold the outcome into the namespace book.
	state, err := m.states.Get(ctx, pos.Strategy)
	if err != nil {
		m.logger.WarnContext(ctx, "lifecycle: load strategy state failed",
			slog.String("strategy", pos.Strategy),
			slog.String("error", err.Error()),
		)
	} else {
		state.ApplyClose(pnl)
		state.UpdatedAt = now
		if err := m.states.Upsert(ctx, state); err != nil {
			m.logger.WarnContext(ctx, "lifecycle: persist strategy state failed",
				slog.String("strategy", pos.Strategy),
				slog.String("error", err.Error()),
			)
		}
	}

	// Block immediate re-entry on the market that just closed.
	if err := m.cooldown.Mark(ctx, pos.Strategy, pos.MarketID, m.cfg.CooldownTTL); err != nil {
		m.logger.WarnContext(ctx, "lifecycle: cooldown mark failed",
			slog.String("market_id", pos.MarketID),
			slog.String("error", err.Error()),
		)
	}

	m.publishPosition(ctx, "position_closed", *pos)
	m.auditEvent(ctx, "position_closed", map[string]any{
		"position_id": pos.ID,
		"market":      pos.MarketID,
		"strategy":    pos.Strategy,
		"reason":      string(reason),
		"entry_price": pos.EntryPrice,
		"exit_price":  sidePrice,
		"pnl":         pnl,
		"hold_hours":  pos.AgeHours(now),
	})
	m.notify(ctx, "position_closed", "Position closed", fmt.Sprintf(
		"[%s] %s\nPnL $%+.2f (%.3f to %.3f)",
		reason, pos.Question, pnl, pos.EntryPrice, sidePrice,
	))

	m.logger.InfoContext(ctx, "lifecycle: position closed",
		slog.String("position_id", pos.ID),
		slog.String("strategy", pos.Strategy),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", sidePrice),
		slog.Float64("pnl", pnl),
	)
	return nil
}

// onCooldown consults the cooldown cache, falling back to the close history
// when the cache is unavailable.
func (m *Manager) onCooldown(ctx context.Context, ns, marketID string, now time.Time) bool {
	active, err := m.cooldown.Active(ctx, ns, marketID)
	if err == nil {
		return active
	}
	m.logger.WarnContext(ctx, "lifecycle: cooldown lookup failed, using close history",
		slog.String("market_id", marketID),
		slog.String("error", err.Error()),
	)
	lastClose, err := m.positions.LastClosedAt(ctx, ns, marketID)
	if err != nil {
		return false
	}
	return now.Sub(lastClose) < m.cfg.CooldownTTL
}

// correlatedExposure sums open cost sharing a keyword family with the
// candidate and reports whether adding it would breach the namespace limit.
func (m *Manager) correlatedExposure(dec domain.TradeDecision, open []domain.Position, bankroll, limit float64) (string, float64, bool) {
	candidateFams := m.families.Match(dec.Question)
	if len(candidateFams) == 0 {
		return "", 0, false
	}
	for _, fam := range candidateFams {
		var cost float64
		for _, p := range open {
			for _, pf := range m.families.Match(p.Question) {
				if pf == fam {
					cost += p.Cost
					break
				}
			}
		}
		if cost+dec.PositionSize > bankroll*limit {
			return fam, cost, true
		}
	}
	return "", 0, false
}

// yesPrice resolves the current YES price for a market, preferring the live
// price cache and falling back to the last market snapshot.
func (m *Manager) yesPrice(ctx context.Context, marketID string) (float64, bool) {
	mkt, err := m.markets.Get(ctx, marketID)
	if err != nil {
		m.logger.DebugContext(ctx, "lifecycle: market lookup failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	if token := mkt.YesToken(); token != "" {
		if price, _, err := m.prices.GetPrice(ctx, token); err == nil && price > 0 {
			return price, true
		}
	}
	if mkt.YesPrice > 0 {
		return mkt.YesPrice, true
	}
	return 0, false
}

func (m *Manager) rejectOpen(ctx context.Context, ns string, dec domain.TradeDecision, reason domain.RejectReason, detail map[string]any) {
	m.logger.DebugContext(ctx, "lifecycle: entry rejected",
		slog.String("strategy", ns),
		slog.String("market_id", dec.MarketID),
		slog.String("reason", string(reason)),
	)
	if m.rejections == nil {
		return
	}
	if err := m.rejections.Insert(ctx, ns, dec.MarketID, reason, detail); err != nil {
		m.logger.WarnContext(ctx, "lifecycle: record rejection failed",
			slog.String("market_id", dec.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) publishPosition(ctx context.Context, event string, pos domain.Position) {
	evt, _ := json.Marshal(map[string]any{
		"event":       event,
		"position_id": pos.ID,
		"market":      pos.MarketID,
		"strategy":    pos.Strategy,
		"direction":   string(pos.Direction),
		"entry_price": pos.EntryPrice,
		"exit_price":  pos.ExitPrice,
		"pnl":         pos.RealizedPnL,
		"cost":        pos.Cost,
	})
	if err := m.bus.Publish(ctx, "positions", evt); err != nil {
		m.logger.WarnContext(ctx, "lifecycle: publish event failed",
			slog.String("event", event),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "lifecycle: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) notify(ctx context.Context, event, title, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, event, title, message); err != nil {
		m.logger.WarnContext(ctx, "lifecycle: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
