package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkrueger/edgebot/internal/domain"
)

// RejectionStore implements domain.RejectionStore using PostgreSQL.
// Rejections are expected outcomes of the filter pipeline, recorded for
// post-hoc tuning: which guard fires how often, and for which markets.
type RejectionStore struct {
	pool *pgxpool.Pool
}

// NewRejectionStore creates a new RejectionStore backed by the given connection pool.
func NewRejectionStore(pool *pgxpool.Pool) *RejectionStore {
	return &RejectionStore{pool: pool}
}

// Insert records one rejection with its figures. The strategy is empty for
// pre-namespace filters (the edge engine runs before fan-out).
func (s *RejectionStore) Insert(ctx context.Context, strategy, marketID string, reason domain.RejectReason, detail map[string]any) error {
	var detailJSON []byte
	if len(detail) > 0 {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal rejection detail: %w", err)
		}
	}

	const query = `INSERT INTO rejections (strategy, market_id, reason, detail) VALUES ($1, $2, $3, $4)`
	_, err := s.pool.Exec(ctx, query, strategy, marketID, string(reason), detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: insert rejection %s/%s: %w", marketID, reason, err)
	}
	return nil
}

// CountByReason buckets rejections recorded at or after since by reason.
func (s *RejectionStore) CountByReason(ctx context.Context, since time.Time) (map[domain.RejectReason]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT reason, COUNT(*) FROM rejections
		 WHERE created_at >= $1
		 GROUP BY reason`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: count rejections by reason: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RejectReason]int64)
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan rejection count: %w", err)
		}
		counts[domain.RejectReason(reason)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count rejections rows: %w", err)
	}
	return counts, nil
}
