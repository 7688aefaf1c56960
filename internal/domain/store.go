package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market metadata.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	GetByTokenID(ctx context.Context, tokenID string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// SignalStore persists normalized signals keyed by market.
type SignalStore interface {
	InsertBatch(ctx context.Context, signals []Signal) error
	ListFresh(ctx context.Context, marketID string, since time.Time) ([]Signal, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PositionStore persists positions across every strategy namespace.
// Reads observe writes within one process.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpen(ctx context.Context, strategy string) ([]Position, error)
	GetOpenByMarket(ctx context.Context, strategy, marketID string) (Position, error)
	ListHistory(ctx context.Context, strategy string, opts ListOpts) ([]Position, error)
	LastClosedAt(ctx context.Context, strategy, marketID string) (time.Time, error)
	CountOpen(ctx context.Context, strategy string) (int, error)
	SumOpenCost(ctx context.Context, strategy string) (float64, error)
}

// OrderStore persists mirrored live orders.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	Update(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListLive(ctx context.Context) ([]Order, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Order, error)
}

// RejectionStore persists filter rejections for post-hoc audit queries.
type RejectionStore interface {
	Insert(ctx context.Context, strategy, marketID string, reason RejectReason, detail map[string]any) error
	CountByReason(ctx context.Context, since time.Time) (map[RejectReason]int64, error)
}

// StrategyStateStore persists per-namespace bankrolls and totals.
type StrategyStateStore interface {
	Get(ctx context.Context, strategy string) (StrategyState, error)
	Upsert(ctx context.Context, state StrategyState) error
	List(ctx context.Context) ([]StrategyState, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]AuditEntry, error)
}
