package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkrueger/edgebot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, market_id, question, strategy, direction,
	entry_price, current_price, peak_price, shares, filled_shares, cost,
	take_profit, stop_loss, confidence, probability,
	status, exit_reason, exit_price, realized_pnl,
	trailing_active, tightened,
	opened_at, filled_at, closed_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, status, exitReason string

	err := row.Scan(
		&p.ID, &p.MarketID, &p.Question, &p.Strategy, &direction,
		&p.EntryPrice, &p.CurrentPrice, &p.PeakPrice,
		&p.Shares, &p.FilledShares, &p.Cost,
		&p.TakeProfit, &p.StopLoss, &p.Confidence, &p.Probability,
		&status, &exitReason, &p.ExitPrice, &p.RealizedPnL,
		&p.TrailingActive, &p.Tightened,
		&p.OpenedAt, &p.FilledAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.TradeDirection(direction)
	p.Status = domain.PositionStatus(status)
	p.ExitReason = domain.ExitReason(exitReason)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, market_id, question, strategy, direction,
			entry_price, current_price, peak_price, shares, filled_shares, cost,
			take_profit, stop_loss, confidence, probability,
			status, exit_reason, exit_price, realized_pnl,
			trailing_active, tightened,
			opened_at, filled_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21,
			$22, $23, $24, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketID, p.Question, p.Strategy, string(p.Direction),
		p.EntryPrice, p.CurrentPrice, p.PeakPrice,
		p.Shares, p.FilledShares, p.Cost,
		p.TakeProfit, p.StopLoss, p.Confidence, p.Probability,
		string(p.Status), string(p.ExitReason), p.ExitPrice, p.RealizedPnL,
		p.TrailingActive, p.Tightened,
		p.OpenedAt, p.FilledAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			current_price   = $2,
			peak_price      = $3,
			shares          = $4,
			filled_shares   = $5,
			cost            = $6,
			take_profit     = $7,
			stop_loss       = $8,
			status          = $9,
			exit_reason     = $10,
			exit_price      = $11,
			realized_pnl    = $12,
			trailing_active = $13,
			tightened       = $14,
			filled_at       = $15,
			closed_at       = $16,
			updated_at      = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.CurrentPrice, p.PeakPrice,
		p.Shares, p.FilledShares, p.Cost,
		p.TakeProfit, p.StopLoss,
		string(p.Status), string(p.ExitReason), p.ExitPrice, p.RealizedPnL,
		p.TrailingActive, p.Tightened,
		p.FilledAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpen returns all non-terminal positions for the given strategy
// namespace, oldest first so exit sweeps process entries in open order.
func (s *PositionStore) GetOpen(ctx context.Context, strategy string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE strategy = $1 AND status IN ('pending', 'partial', 'open')
		 ORDER BY opened_at ASC`, strategy)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetOpenByMarket returns the non-terminal position a strategy holds in a
// market, or domain.ErrNotFound when the namespace has no exposure there.
func (s *PositionStore) GetOpenByMarket(ctx context.Context, strategy, marketID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE strategy = $1 AND market_id = $2 AND status IN ('pending', 'partial', 'open')
		 ORDER BY opened_at DESC
		 LIMIT 1`, strategy, marketID)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position %s/%s: %w", strategy, marketID, err)
	}
	return p, nil
}

// ListHistory returns positions for the given strategy with pagination and
// optional time filtering on opened_at. An empty strategy lists every
// namespace.
func (s *PositionStore) ListHistory(ctx context.Context, strategy string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if strategy != "" {
		query += fmt.Sprintf(" AND strategy = $%d", argIdx)
		args = append(args, strategy)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns positions closed strictly before the cutoff,
// oldest first. Used by the cold-storage archiver.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// LastClosedAt returns when the strategy last closed a position in the given
// market. The zero time with a nil error means it never has.
func (s *PositionStore) LastClosedAt(ctx context.Context, strategy, marketID string) (time.Time, error) {
	var closedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(closed_at) FROM positions
		 WHERE strategy = $1 AND market_id = $2 AND status = 'closed'`,
		strategy, marketID,
	).Scan(&closedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last closed at %s/%s: %w", strategy, marketID, err)
	}
	if closedAt == nil {
		return time.Time{}, nil
	}
	return *closedAt, nil
}

// CountOpen returns the number of non-terminal positions in a namespace.
func (s *PositionStore) CountOpen(ctx context.Context, strategy string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions
		 WHERE strategy = $1 AND status IN ('pending', 'partial', 'open')`,
		strategy,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open positions: %w", err)
	}
	return count, nil
}

// SumOpenCost returns the dollars a namespace has tied up in non-terminal
// positions.
func (s *PositionStore) SumOpenCost(ctx context.Context, strategy string) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM positions
		 WHERE strategy = $1 AND status IN ('pending', 'partial', 'open')`,
		strategy,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum open cost: %w", err)
	}
	return sum, nil
}
