package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrueger/edgebot/internal/crypto"
	"github.com/dkrueger/edgebot/internal/domain"
)

type fakeSigner struct{}

func (fakeSigner) SignOrder(_ crypto.OrderPayload) (string, error) { return "0xsigned", nil }
func (fakeSigner) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

type fakeClob struct {
	mu         sync.Mutex
	balance    float64
	balanceErr error
	postResult domain.OrderResult
	postErr    error
	posted     []domain.Order
	venue      map[string]domain.Order
	cancelled  []string
}

func (c *fakeClob) PostOrder(_ context.Context, order domain.Order) (domain.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posted = append(c.posted, order)
	return c.postResult, c.postErr
}

func (c *fakeClob) CancelOrder(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, orderID)
	return nil
}

func (c *fakeClob) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.venue[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (c *fakeClob) GetBalance(_ context.Context) (float64, error) {
	return c.balance, c.balanceErr
}

type fakeBook struct {
	mu        sync.Mutex
	fills     map[string]float64
	cancelled []string
}

func newFakeBook() *fakeBook {
	return &fakeBook{fills: make(map[string]float64)}
}

func (b *fakeBook) ApplyFill(_ context.Context, positionID string, filledShares float64, _ time.Time) (domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fills[positionID] = filledShares
	return domain.Position{ID: positionID, FilledShares: filledShares}, nil
}

func (b *fakeBook) Cancel(_ context.Context, positionID string, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, positionID)
	return nil
}

func (b *fakeBook) cancelledIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

// memOrders is an in-memory domain.OrderStore.
type memOrders struct {
	mu   sync.Mutex
	rows map[string]domain.Order
}

func newMemOrders() *memOrders {
	return &memOrders{rows: make(map[string]domain.Order)}
}

func (s *memOrders) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[order.ID] = order
	return nil
}

func (s *memOrders) Update(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[order.ID]; !ok {
		return domain.ErrNotFound
	}
	s.rows[order.ID] = order
	return nil
}

func (s *memOrders) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	s.rows[id] = o
	return nil
}

func (s *memOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrders) ListLive(_ context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.rows {
		if o.Live() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrders) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.rows {
		if o.MarketID == marketID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrders) put(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[order.ID] = order
}

func (s *memOrders) all() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.rows {
		out = append(out, o)
	}
	return out
}

// fakeMarkets is a minimal domain.MarketCache.
type fakeMarkets struct {
	byID map[string]domain.Market
}

func (f *fakeMarkets) Set(_ context.Context, m domain.Market) error {
	if f.byID == nil {
		f.byID = make(map[string]domain.Market)
	}
	f.byID[m.ID] = m
	return nil
}

func (f *fakeMarkets) Get(_ context.Context, id string) (domain.Market, error) {
	m, ok := f.byID[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarkets) GetByToken(_ context.Context, _ string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeMarkets) Invalidate(_ context.Context, _ string) error { return nil }

// fakePrices is a minimal domain.PriceCache.
type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (f *fakePrices) SetPrice(_ context.Context, assetID string, price float64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prices == nil {
		f.prices = make(map[string]float64)
	}
	f.prices[assetID] = price
	return nil
}

func (f *fakePrices) GetPrice(_ context.Context, assetID string) (float64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[assetID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (f *fakePrices) GetPrices(_ context.Context, assetIDs []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64)
	for _, id := range assetIDs {
		if p, ok := f.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// noopBus is a domain.SignalBus that swallows everything.
type noopBus struct{}

func (noopBus) Publish(_ context.Context, _ string, _ []byte) error { return nil }
func (noopBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (noopBus) StreamAppend(_ context.Context, _ string, _ []byte) error { return nil }
func (noopBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type execHarness struct {
	exec    *Executor
	orders  *memOrders
	markets *fakeMarkets
	prices  *fakePrices
}

func newHarness(clob *fakeClob, book *fakeBook) execHarness {
	orders := newMemOrders()
	markets := &fakeMarkets{}
	prices := &fakePrices{}
	exec := New(
		Config{
			MaxOrderSize:   15,
			MinOrderSize:   1,
			BalanceReserve: 0.95,
		},
		nil,
		orders,
		book,
		markets,
		prices,
		clob,
		fakeSigner{},
		noopBus{},
		nil,
		testLogger(),
	)
	return execHarness{exec: exec, orders: orders, markets: markets, prices: prices}
}

func mirrorRequest() domain.OrderRequest {
	return domain.OrderRequest{
		MarketID:   "mkt-1",
		TokenID:    "tok-yes",
		PositionID: "twin-1",
		Strategy:   "live:aggressive",
		Side:       domain.OrderSideBuy,
		Direction:  domain.BuyYes,
		Price:      0.50,
		Size:       20,
	}
}

func TestPlaceSubmitsSignedOrderAndPersists(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, OrderID: "venue-1", Status: domain.OrderStatusOpen},
	}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	require.Len(t, clob.posted, 1)
	assert.Equal(t, "0xsigned", clob.posted[0].Signature)

	stored, err := h.orders.GetByID(context.Background(), "venue-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, stored.Status)
	assert.Equal(t, "twin-1", stored.PositionID)
	assert.InDelta(t, 0.50, stored.Price(), 1e-9)
	assert.InDelta(t, 20.0, stored.Size(), 1e-9)
	assert.Empty(t, book.cancelledIDs())
}

func TestPlaceBuyAmountsAreFixedPoint(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, Status: domain.OrderStatusOpen},
	}
	h := newHarness(clob, newFakeBook())

	req := mirrorRequest()
	req.Price = 0.55
	req.Size = 10

	h.exec.place(context.Background(), req)

	require.Len(t, clob.posted, 1)
	posted := clob.posted[0]
	// Buy: maker pays 5.50 USDC, taker receives 10 shares, both at 1e6.
	assert.Equal(t, "5500000", posted.MakerAmount.String())
	assert.Equal(t, "10000000", posted.TakerAmount.String())
	assert.Equal(t, int64(550000), posted.PriceTicks)
}

func TestPlaceDeduplicatesByPositionID(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, Status: domain.OrderStatusOpen},
	}
	h := newHarness(clob, newFakeBook())

	h.exec.place(context.Background(), mirrorRequest())
	h.exec.place(context.Background(), mirrorRequest())

	assert.Len(t, clob.posted, 1)
}

func TestPlaceBelowMinimumCancelsTwin(t *testing.T) {
	clob := &fakeClob{balance: 100}
	book := newFakeBook()
	h := newHarness(clob, book)

	req := mirrorRequest()
	req.Price = 0.50
	req.Size = 1 // $0.50 notional

	h.exec.place(context.Background(), req)

	assert.Empty(t, clob.posted)
	assert.Equal(t, []string{"twin-1"}, book.cancelledIDs())
}

func TestPlaceFailsClosedWithoutBalance(t *testing.T) {
	clob := &fakeClob{balanceErr: errors.New("api down")}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	assert.Empty(t, clob.posted)
	assert.Equal(t, []string{"twin-1"}, book.cancelledIDs())
}

func TestPlaceRespectsBalanceReserve(t *testing.T) {
	// Order costs $10; a $10 balance leaves only $9.50 spendable.
	clob := &fakeClob{balance: 10}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	assert.Empty(t, clob.posted)
	assert.Equal(t, []string{"twin-1"}, book.cancelledIDs())
}

func TestPlaceVenueRejectionRecordsFailedOrder(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: false, Message: "bad tick size"},
		postErr:    domain.ErrOrderRejected,
	}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	live, err := h.orders.ListLive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live)

	all := h.orders.all()
	require.Len(t, all, 1)
	assert.Equal(t, domain.OrderStatusFailed, all[0].Status)
	assert.Equal(t, []string{"twin-1"}, book.cancelledIDs())
}

func TestPlaceInstantMatchAppliesFill(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, OrderID: "venue-9", Status: domain.OrderStatusMatched},
	}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	assert.InDelta(t, 20.0, book.fills["twin-1"], 1e-9)
}

func TestPollFillsForwardsProgressToBook(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, OrderID: "venue-1", Status: domain.OrderStatusOpen},
	}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	clob.venue = map[string]domain.Order{
		"venue-1": {ID: "venue-1", Status: domain.OrderStatusOpen, FilledSize: 8},
	}
	h.exec.pollFills(context.Background())
	assert.InDelta(t, 8.0, book.fills["twin-1"], 1e-9)

	stored, err := h.orders.GetByID(context.Background(), "venue-1")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, stored.FilledSize, 1e-9)

	// Full fill flips the order to matched and stamps filled_at.
	clob.venue["venue-1"] = domain.Order{ID: "venue-1", Status: domain.OrderStatusMatched, FilledSize: 20}
	h.exec.pollFills(context.Background())
	assert.InDelta(t, 20.0, book.fills["twin-1"], 1e-9)

	stored, err = h.orders.GetByID(context.Background(), "venue-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusMatched, stored.Status)
	require.NotNil(t, stored.FilledAt)
}

func TestPollFillsCancelsTwinWhenOrderVanishes(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, OrderID: "venue-1", Status: domain.OrderStatusOpen},
	}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	clob.venue = map[string]domain.Order{} // nothing at the venue
	h.exec.pollFills(context.Background())

	stored, err := h.orders.GetByID(context.Background(), "venue-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Equal(t, []string{"twin-1"}, book.cancelledIDs())
}

func TestSweepStaleCancelsByAge(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, OrderID: "venue-1", Status: domain.OrderStatusOpen},
	}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	stale, err := h.orders.GetByID(context.Background(), "venue-1")
	require.NoError(t, err)
	stale.CreatedAt = time.Now().Add(-13 * time.Hour)
	h.orders.put(stale)

	h.exec.sweepStale(context.Background())

	assert.Equal(t, []string{"venue-1"}, clob.cancelled)
	updated, err := h.orders.GetByID(context.Background(), "venue-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, updated.Status)
	assert.Equal(t, []string{"twin-1"}, book.cancelledIDs())
}

func TestSweepStaleCancelsOnPriceDrift(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, OrderID: "venue-1", Status: domain.OrderStatusOpen},
	}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	// Limit at 0.50, market now at 0.75: drift 0.25 > 0.20.
	require.NoError(t, h.prices.SetPrice(context.Background(), "tok-yes", 0.75, time.Now()))

	h.exec.sweepStale(context.Background())

	assert.Equal(t, []string{"venue-1"}, clob.cancelled)
}

func TestSweepStaleCancelsOnMarketExpiry(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, OrderID: "venue-1", Status: domain.OrderStatusOpen},
	}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())

	soon := time.Now().Add(30 * time.Minute)
	require.NoError(t, h.markets.Set(context.Background(), domain.Market{ID: "mkt-1", ExpiresAt: &soon}))

	h.exec.sweepStale(context.Background())

	assert.Equal(t, []string{"venue-1"}, clob.cancelled)
}

func TestSweepStaleLeavesHealthyOrders(t *testing.T) {
	clob := &fakeClob{
		balance:    100,
		postResult: domain.OrderResult{Success: true, OrderID: "venue-1", Status: domain.OrderStatusOpen},
	}
	book := newFakeBook()
	h := newHarness(clob, book)

	h.exec.place(context.Background(), mirrorRequest())
	h.exec.sweepStale(context.Background())

	assert.Empty(t, clob.cancelled)
	live, err := h.orders.ListLive(context.Background())
	require.NoError(t, err)
	assert.Len(t, live, 1)
}
