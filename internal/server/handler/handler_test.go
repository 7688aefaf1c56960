package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrueger/edgebot/internal/arena"
	"github.com/dkrueger/edgebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// --- positions ---

type stubPositions struct {
	open    []domain.Position
	history []domain.Position
	byID    map[string]domain.Position

	gotStrategy string
	gotOpts     domain.ListOpts
}

func (s *stubPositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	pos, ok := s.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *stubPositions) GetOpen(_ context.Context, strategy string) ([]domain.Position, error) {
	s.gotStrategy = strategy
	return s.open, nil
}

func (s *stubPositions) ListHistory(_ context.Context, strategy string, opts domain.ListOpts) ([]domain.Position, error) {
	s.gotStrategy = strategy
	s.gotOpts = opts
	return s.history, nil
}

func TestListPositionsDefaultsToPrimaryOpen(t *testing.T) {
	store := &stubPositions{open: []domain.Position{{ID: "pos-1", Strategy: "primary"}}}
	h := NewPositionHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "primary", store.gotStrategy)

	var resp listPositionsResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "open", resp.Status)
	require.Len(t, resp.Positions, 1)
	assert.Equal(t, "pos-1", resp.Positions[0].ID)
}

func TestListPositionsClosedPaginates(t *testing.T) {
	store := &stubPositions{history: []domain.Position{{ID: "pos-9"}}}
	h := NewPositionHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet,
		"/api/positions?strategy=sniper&status=closed&limit=10&offset=20", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sniper", store.gotStrategy)
	assert.Equal(t, 10, store.gotOpts.Limit)
	assert.Equal(t, 20, store.gotOpts.Offset)
}

func TestListPositionsRejectsUnknownStatus(t *testing.T) {
	h := NewPositionHandler(&stubPositions{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status=pending", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPositionNotFound(t *testing.T) {
	h := NewPositionHandler(&stubPositions{byID: map[string]domain.Position{}}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/positions/nope", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	h.GetPosition(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- strategies ---

type stubArena struct {
	roster    []domain.StrategyParams
	standings []arena.Standing
	err       error
}

func (s *stubArena) Roster() []domain.StrategyParams { return s.roster }
func (s *stubArena) Leaderboard(context.Context) ([]arena.Standing, error) {
	return s.standings, s.err
}

func TestListStrategiesReturnsRoster(t *testing.T) {
	h := NewStrategyHandler(&stubArena{roster: []domain.StrategyParams{
		{Name: "baseline"}, {Name: "sniper", LiveMirror: true},
	}}, testLogger())

	rec := httptest.NewRecorder()
	h.ListStrategies(rec, httptest.NewRequest(http.MethodGet, "/api/strategies", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listStrategiesResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "sniper", resp.Strategies[1].Name)
}

func TestGetLeaderboardEmptyIsArray(t *testing.T) {
	h := NewStrategyHandler(&stubArena{}, testLogger())

	rec := httptest.NewRecorder()
	h.GetLeaderboard(rec, httptest.NewRequest(http.MethodGet, "/api/strategies/leaderboard", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"leaderboard":[]}`, rec.Body.String())
}

// --- audit ---

type stubAudit struct {
	entries  []domain.AuditEntry
	gotSince time.Time
	gotLimit int
}

func (s *stubAudit) ListSince(_ context.Context, since time.Time, limit int) ([]domain.AuditEntry, error) {
	s.gotSince = since
	s.gotLimit = limit
	return s.entries, nil
}

func TestListRecentAuditDefaults(t *testing.T) {
	store := &stubAudit{entries: []domain.AuditEntry{{ID: 1, Event: "position_opened"}}}
	h := NewAuditHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/audit/recent", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, store.gotLimit)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), store.gotSince, 5*time.Second)
}

func TestListRecentAuditRejectsBadWindow(t *testing.T) {
	h := NewAuditHandler(&stubAudit{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/audit/recent?minutes=-5", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- orders ---

type stubOrders struct {
	live     []domain.Order
	byMarket []domain.Order
}

func (s *stubOrders) GetByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (s *stubOrders) ListLive(context.Context) ([]domain.Order, error) { return s.live, nil }
func (s *stubOrders) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return s.byMarket, nil
}

func TestListOrdersLiveByDefault(t *testing.T) {
	h := NewOrderHandler(&stubOrders{live: []domain.Order{{ID: "ord-1"}}}, testLogger())

	rec := httptest.NewRecorder()
	h.ListOrders(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listOrdersResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Orders, 1)
	assert.Equal(t, "ord-1", resp.Orders[0].ID)
}

func TestListOrdersByMarket(t *testing.T) {
	h := NewOrderHandler(&stubOrders{byMarket: []domain.Order{{ID: "ord-2"}}}, testLogger())

	rec := httptest.NewRecorder()
	h.ListOrders(rec, httptest.NewRequest(http.MethodGet, "/api/orders?market_id=mkt-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listOrdersResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Orders, 1)
	assert.Equal(t, "ord-2", resp.Orders[0].ID)
}

// --- health ---

type stubPinger struct{ err error }

func (s *stubPinger) Ping(context.Context) error { return s.err }

func TestHealthCheckAllUp(t *testing.T) {
	h := NewHealthHandler(&stubPinger{}, &stubPinger{}, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	checks := resp["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "ok", checks["redis"])
}

func TestHealthCheckDegradedOnFailingProbe(t *testing.T) {
	h := NewHealthHandler(&stubPinger{}, &stubPinger{err: context.DeadlineExceeded}, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, "degraded", resp["status"])
	checks := resp["checks"].(map[string]any)
	assert.Equal(t, "fail", checks["redis"])
}

func TestHealthCheckSkipsNilProbes(t *testing.T) {
	h := NewHealthHandler(nil, nil, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

// --- status ---

func TestGetStatusPayload(t *testing.T) {
	h := NewStatusHandler("live", "sniper", 5, time.Now().Add(-90*time.Second))

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeBody(t, rec, &resp)
	assert.Equal(t, "live", resp["mode"])
	assert.Equal(t, "sniper", resp["live_strategy"])
	assert.Equal(t, float64(5), resp["strategies"])
	assert.GreaterOrEqual(t, resp["uptime_seconds"], float64(89))
}
