// Package executor mirrors designated simulated entries onto the exchange.
// It consumes order requests from the arena, gates them against the real
// balance, signs and places them, then keeps the mirrored book honest with a
// fill poller and a stale-order sweeper. Everything here is best-effort: a
// live failure cancels the mirrored twin but never touches the simulated
// record that produced it.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/dkrueger/edgebot/internal/crypto"
	"github.com/dkrueger/edgebot/internal/domain"
)

// Clob is the slice of the exchange client the executor drives.
type Clob interface {
	PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetBalance(ctx context.Context) (float64, error)
}

// Book is the slice of the lifecycle manager that keeps mirrored positions
// in step with exchange fills.
type Book interface {
	ApplyFill(ctx context.Context, positionID string, filledShares float64, now time.Time) (domain.Position, error)
	Cancel(ctx context.Context, positionID string, now time.Time) error
}

// Signer abstracts EIP-712 order signing so the executor never depends on
// concrete key management.
type Signer interface {
	SignOrder(payload crypto.OrderPayload) (string, error)
	Address() common.Address
}

// Config tunes the live mirror.
type Config struct {
	// MaxOrderSize caps the notional of any single mirrored order, USD.
	MaxOrderSize float64
	// MinOrderSize skips mirrored orders below this notional, USD.
	MinOrderSize float64
	// BalanceReserve is the fraction of the real balance orders may spend.
	BalanceReserve float64
	// StaleOrderAge cancels unfilled orders older than this.
	StaleOrderAge time.Duration
	// FillPollEvery is the fill poller cadence.
	FillPollEvery time.Duration
	// SignatureType selects the Polymarket signature scheme (0 EOA).
	SignatureType int
}

func (c Config) withDefaults() Config {
	if c.MaxOrderSize <= 0 {
		c.MaxOrderSize = 15
	}
	if c.MinOrderSize <= 0 {
		c.MinOrderSize = 1
	}
	if c.BalanceReserve <= 0 || c.BalanceReserve > 1 {
		c.BalanceReserve = 0.95
	}
	if c.StaleOrderAge <= 0 {
		c.StaleOrderAge = 12 * time.Hour
	}
	if c.FillPollEvery <= 0 {
		c.FillPollEvery = 30 * time.Second
	}
	return c
}

// Cancelling drift: an unfilled limit order whose market ran this far away
// will not fill at an acceptable price anymore.
const driftLimit = 0.20

// sweepEvery is the stale-order sweeper cadence.
const sweepEvery = 5 * time.Minute

// balanceTTL bounds how stale the cached exchange balance may get.
const balanceTTL = 30 * time.Second

// Executor is the live mirror. It owns every order row in the store.
type Executor struct {
	cfg      Config
	requests <-chan domain.OrderRequest
	orders   domain.OrderStore
	book     Book
	markets  domain.MarketCache
	prices   domain.PriceCache
	clob     Clob
	signer   Signer
	bus      domain.SignalBus
	audit    domain.AuditStore
	dedup    *Dedup
	logger   *slog.Logger

	balMu     sync.Mutex
	balance   float64
	balanceAt time.Time
}

// New creates an Executor that reads mirror requests from requests and
// places them through clob.
func New(
	cfg Config,
	requests <-chan domain.OrderRequest,
	orders domain.OrderStore,
	book Book,
	markets domain.MarketCache,
	prices domain.PriceCache,
	clob Clob,
	signer Signer,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		cfg:      cfg.withDefaults(),
		requests: requests,
		orders:   orders,
		book:     book,
		markets:  markets,
		prices:   prices,
		clob:     clob,
		signer:   signer,
		bus:      bus,
		audit:    audit,
		dedup:    NewDedup(2 * time.Hour),
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// Balance returns the exchange's spendable collateral, cached briefly so the
// arena can rescale every cycle without hammering the API.
func (e *Executor) Balance(ctx context.Context) (float64, error) {
	e.balMu.Lock()
	defer e.balMu.Unlock()

	if time.Since(e.balanceAt) < balanceTTL {
		return e.balance, nil
	}
	bal, err := e.clob.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	e.balance = bal
	e.balanceAt = time.Now()
	return bal, nil
}

// Run processes requests and runs the fill poller and stale sweeper until
// ctx is cancelled, then drains buffered requests before returning.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	pollTicker := time.NewTicker(e.cfg.FillPollEvery)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(sweepEvery)
	defer sweepTicker.Stop()
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case req, ok := <-e.requests:
			if !ok {
				return nil
			}
			e.place(ctx, req)

		case <-pollTicker.C:
			e.pollFills(ctx)

		case <-sweepTicker.C:
			e.sweepStale(ctx)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// place runs one mirror request through dedup, the balance gate, signing,
// and submission. Failures cancel the mirrored twin position.
func (e *Executor) place(ctx context.Context, req domain.OrderRequest) {
	log := e.logger.With(
		slog.String("position_id", req.PositionID),
		slog.String("market_id", req.MarketID),
		slog.String("strategy", req.Strategy),
		slog.String("side", string(req.Side)),
	)

	if e.dedup.Seen(req.PositionID) {
		log.Debug("duplicate mirror request, skipping")
		return
	}

	if !req.ExpiresAt.IsZero() && time.Now().UTC().After(req.ExpiresAt) {
		log.Warn("mirror request expired before placement")
		e.abandon(ctx, req.PositionID, "request_expired", log)
		return
	}

	cost := req.Price * req.Size
	if cost < e.cfg.MinOrderSize {
		log.Debug("mirror request below minimum notional", slog.Float64("cost", cost))
		e.abandon(ctx, req.PositionID, "below_minimum", log)
		return
	}

	// Balance gate fails closed: no readable balance, no live order.
	bal, err := e.Balance(ctx)
	if err != nil {
		log.Warn("balance check failed, dropping mirror request",
			slog.String("error", err.Error()))
		e.abandon(ctx, req.PositionID, "balance_unavailable", log)
		return
	}
	if cost > bal*e.cfg.BalanceReserve {
		log.Warn("mirror request exceeds balance reserve",
			slog.Float64("cost", cost),
			slog.Float64("balance", bal),
		)
		e.abandon(ctx, req.PositionID, "insufficient_balance", log)
		return
	}

	order, err := e.buildOrder(req)
	if err != nil {
		log.Error("order build failed", slog.String("error", err.Error()))
		e.abandon(ctx, req.PositionID, "build_failed", log)
		return
	}

	result, err := e.clob.PostOrder(ctx, order)
	if err != nil && result.ShouldRetry {
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
		result, err = e.clob.PostOrder(ctx, order)
	}
	if err != nil {
		log.Warn("mirror order rejected",
			slog.String("error", err.Error()),
			slog.String("message", result.Message),
		)
		order.Status = domain.OrderStatusFailed
		if storeErr := e.orders.Create(ctx, order); storeErr != nil {
			log.Warn("persist failed order", slog.String("error", storeErr.Error()))
		}
		e.abandon(ctx, req.PositionID, "venue_rejected", log)
		return
	}

	// The venue's ID is what the fill poller must query by.
	if result.OrderID != "" {
		order.ID = result.OrderID
	}
	if result.Status != "" {
		order.Status = result.Status
	} else {
		order.Status = domain.OrderStatusOpen
	}
	if err := e.orders.Create(ctx, order); err != nil {
		log.Error("persist placed order failed", slog.String("error", err.Error()))
	}

	e.publishOrder(ctx, "order_placed", order)
	e.auditEvent(ctx, "order_placed", map[string]any{
		"order_id":    order.ID,
		"position_id": order.PositionID,
		"market":      order.MarketID,
		"side":        string(order.Side),
		"price":       order.Price(),
		"size":        order.Size(),
		"strategy":    order.Strategy,
	})

	log.Info("mirror order placed",
		slog.String("order_id", order.ID),
		slog.String("status", string(order.Status)),
		slog.Float64("price", order.Price()),
		slog.Float64("size", order.Size()),
	)

	// Instant fill: some orders match in the placement response.
	if order.Status == domain.OrderStatusMatched {
		if _, err := e.book.ApplyFill(ctx, order.PositionID, order.Size(), time.Now().UTC()); err != nil {
			log.Warn("apply instant fill failed", slog.String("error", err.Error()))
		}
	}
}

// buildOrder converts a mirror request into a signed exchange order. Buy
// orders spend collateral for shares; sells are the reverse.
func (e *Executor) buildOrder(req domain.OrderRequest) (domain.Order, error) {
	wallet := e.signer.Address().Hex()
	priceTicks := int64(math.Round(req.Price * 1e6))
	sizeUnits := int64(math.Round(req.Size * 1e6))

	notional := new(big.Int).Mul(big.NewInt(priceTicks), big.NewInt(sizeUnits))
	notional.Div(notional, big.NewInt(1e6))
	shares := big.NewInt(sizeUnits)

	maker, taker := notional, shares
	sideInt := 0
	if req.Side == domain.OrderSideSell {
		maker, taker = shares, notional
		sideInt = 1
	}

	order := domain.Order{
		ID:          uuid.NewString(),
		MarketID:    req.MarketID,
		TokenID:     req.TokenID,
		PositionID:  req.PositionID,
		Wallet:      wallet,
		Side:        req.Side,
		Type:        domain.OrderTypeGTC,
		PriceTicks:  priceTicks,
		SizeUnits:   sizeUnits,
		MakerAmount: maker,
		TakerAmount: taker,
		Status:      domain.OrderStatusPending,
		Strategy:    req.Strategy,
		CreatedAt:   time.Now().UTC(),
	}

	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", time.Now().UnixNano()),
		Maker:         wallet,
		Signer:        wallet,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.TokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideInt,
		SignatureType: e.cfg.SignatureType,
	}

	signature, err := e.signer.SignOrder(payload)
	if err != nil {
		return domain.Order{}, fmt.Errorf("executor: sign order: %w", err)
	}
	order.Signature = signature
	return order, nil
}

// pollFills reconciles live orders against the venue and forwards fill
// progress to the mirrored book.
func (e *Executor) pollFills(ctx context.Context) {
	live, err := e.orders.ListLive(ctx)
	if err != nil {
		e.logger.Warn("fill poll: list live orders failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, o := range live {
		if ctx.Err() != nil {
			return
		}

		venue, err := e.clob.GetOrder(ctx, o.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Gone from the venue without a terminal status on our side.
				e.cancelLocal(ctx, o, "vanished")
				continue
			}
			e.logger.Debug("fill poll: get order failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		changed := false
		if venue.FilledSize > o.FilledSize {
			o.FilledSize = venue.FilledSize
			changed = true
		}
		if venue.Status != "" && venue.Status != o.Status {
			o.Status = venue.Status
			changed = true
		}
		if !changed {
			continue
		}

		if o.Status == domain.OrderStatusMatched && o.FilledAt == nil {
			o.FilledAt = &now
		}
		if o.Status == domain.OrderStatusCancelled && o.CancelledAt == nil {
			o.CancelledAt = &now
		}
		if err := e.orders.Update(ctx, o); err != nil {
			e.logger.Warn("fill poll: update order failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}

		if o.PositionID == "" {
			continue
		}
		if o.FilledSize > 0 {
			if _, err := e.book.ApplyFill(ctx, o.PositionID, o.FilledSize, now); err != nil {
				e.logger.Warn("fill poll: apply fill failed",
					slog.String("position_id", o.PositionID),
					slog.String("error", err.Error()),
				)
			}
		}
		if o.Status == domain.OrderStatusCancelled && o.FilledSize < o.Size() {
			e.abandon(ctx, o.PositionID, "venue_cancelled", e.logger)
		}
	}
}

// sweepStale cancels live orders that aged out, sit on a market about to
// expire, or drifted too far from the current price to ever fill well.
func (e *Executor) sweepStale(ctx context.Context) {
	live, err := e.orders.ListLive(ctx)
	if err != nil {
		e.logger.Warn("stale sweep: list live orders failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, o := range live {
		if ctx.Err() != nil {
			return
		}

		reason := ""
		switch {
		case now.Sub(o.CreatedAt) > e.cfg.StaleOrderAge:
			reason = "stale_age"
		case e.marketExpiring(ctx, o.MarketID, now):
			reason = "market_expiring"
		case e.priceDrifted(ctx, o):
			reason = "price_drift"
		}
		if reason == "" {
			continue
		}

		if err := e.clob.CancelOrder(ctx, o.ID); err != nil {
			e.logger.Warn("stale sweep: venue cancel failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.cancelLocal(ctx, o, reason)
	}
}

func (e *Executor) marketExpiring(ctx context.Context, marketID string, now time.Time) bool {
	mkt, err := e.markets.Get(ctx, marketID)
	if err != nil || mkt.ExpiresAt == nil {
		return false
	}
	return mkt.ExpiresAt.Sub(now) < time.Hour
}

func (e *Executor) priceDrifted(ctx context.Context, o domain.Order) bool {
	price, _, err := e.prices.GetPrice(ctx, o.TokenID)
	if err != nil || price <= 0 {
		return false
	}
	return math.Abs(price-o.Price()) > driftLimit
}

// cancelLocal marks an order cancelled locally and abandons its twin when
// nothing has filled.
func (e *Executor) cancelLocal(ctx context.Context, o domain.Order, reason string) {
	if err := e.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusCancelled); err != nil {
		e.logger.Warn("cancel order locally failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
	e.publishOrder(ctx, "order_cancelled", o)
	e.auditEvent(ctx, "order_cancelled", map[string]any{
		"order_id":    o.ID,
		"position_id": o.PositionID,
		"market":      o.MarketID,
		"reason":      reason,
	})
	e.logger.Info("mirror order cancelled",
		slog.String("order_id", o.ID),
		slog.String("reason", reason),
	)

	if o.PositionID != "" && o.FilledSize == 0 {
		e.abandon(ctx, o.PositionID, reason, e.logger)
	}
}

// abandon cancels the mirrored twin position. Twins that already opened
// refuse the transition inside the lifecycle manager, which is exactly the
// guard we want here.
func (e *Executor) abandon(ctx context.Context, positionID, reason string, log *slog.Logger) {
	if positionID == "" {
		return
	}
	if err := e.book.Cancel(ctx, positionID, time.Now().UTC()); err != nil {
		log.Debug("cancel mirrored twin failed",
			slog.String("position_id", positionID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) publishOrder(ctx context.Context, event string, o domain.Order) {
	evt, _ := json.Marshal(map[string]any{
		"event":    event,
		"order_id": o.ID,
		"market":   o.MarketID,
		"side":     string(o.Side),
		"price":    o.Price(),
		"size":     o.Size(),
		"strategy": o.Strategy,
	})
	if err := e.bus.Publish(ctx, "orders", evt); err != nil {
		e.logger.Warn("publish order event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// drain processes requests already buffered in the channel after context
// cancellation so in-flight mirrors are not silently dropped.
func (e *Executor) drain() {
	for {
		select {
		case req, ok := <-e.requests:
			if !ok {
				return
			}
			e.logger.Warn("draining mirror request after shutdown",
				slog.String("position_id", req.PositionID),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.place(drainCtx, req)
			cancel()
		default:
			return
		}
	}
}
