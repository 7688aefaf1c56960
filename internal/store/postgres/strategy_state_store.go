package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkrueger/edgebot/internal/domain"
)

// StrategyStateStore implements domain.StrategyStateStore using PostgreSQL.
type StrategyStateStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStateStore creates a new StrategyStateStore backed by the given connection pool.
func NewStrategyStateStore(pool *pgxpool.Pool) *StrategyStateStore {
	return &StrategyStateStore{pool: pool}
}

// Get retrieves the persisted book for one strategy namespace.
func (s *StrategyStateStore) Get(ctx context.Context, strategy string) (domain.StrategyState, error) {
	const query = `SELECT strategy, bankroll, realized_pnl, wins, losses, updated_at
		FROM strategy_state WHERE strategy = $1`

	var st domain.StrategyState
	err := s.pool.QueryRow(ctx, query, strategy).Scan(
		&st.Strategy, &st.Bankroll, &st.RealizedPnL, &st.Wins, &st.Losses, &st.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyState{}, domain.ErrNotFound
		}
		return domain.StrategyState{}, fmt.Errorf("postgres: get strategy state %s: %w", strategy, err)
	}
	return st, nil
}

// Upsert inserts or updates a namespace book.
func (s *StrategyStateStore) Upsert(ctx context.Context, st domain.StrategyState) error {
	const query = `
		INSERT INTO strategy_state (strategy, bankroll, realized_pnl, wins, losses, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (strategy) DO UPDATE SET
			bankroll     = EXCLUDED.bankroll,
			realized_pnl = EXCLUDED.realized_pnl,
			wins         = EXCLUDED.wins,
			losses       = EXCLUDED.losses,
			updated_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		st.Strategy, st.Bankroll, st.RealizedPnL, st.Wins, st.Losses,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy state %s: %w", st.Strategy, err)
	}
	return nil
}

// List returns every namespace book, ordered by name.
func (s *StrategyStateStore) List(ctx context.Context) ([]domain.StrategyState, error) {
	const query = `SELECT strategy, bankroll, realized_pnl, wins, losses, updated_at
		FROM strategy_state ORDER BY strategy`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategy states: %w", err)
	}
	defer rows.Close()

	var states []domain.StrategyState
	for rows.Next() {
		var st domain.StrategyState
		if err := rows.Scan(
			&st.Strategy, &st.Bankroll, &st.RealizedPnL, &st.Wins, &st.Losses, &st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategy states rows: %w", err)
	}
	return states, nil
}
