package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkrueger/edgebot/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// InsertBatch writes a batch of signals. Collectors re-deliver items across
// cycles, so inserts are idempotent on signal ID.
func (s *SignalStore) InsertBatch(ctx context.Context, signals []domain.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	const query = `
		INSERT INTO signals (
			id, market_id, source, source_type, title,
			sentiment, match_quality, importance, urgent, direction,
			published_at, metadata
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for i, sig := range signals {
		var metadata []byte
		if len(sig.Metadata) > 0 {
			var err error
			metadata, err = json.Marshal(sig.Metadata)
			if err != nil {
				return fmt.Errorf("postgres: marshal signal %d metadata: %w", i, err)
			}
		}
		batch.Queue(query,
			sig.ID, sig.MarketID, sig.Source, sig.SourceType, sig.Title,
			sig.Sentiment, sig.MatchQuality, sig.Importance, sig.Urgent,
			string(sig.Direction), sig.PublishedAt, metadata,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range signals {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert signal batch item %d: %w", i, err)
		}
	}
	return nil
}

const signalSelectCols = `id, market_id, source, source_type, title,
	sentiment, match_quality, importance, urgent, direction,
	published_at, metadata`

func scanSignalRows(rows pgx.Rows) ([]domain.Signal, error) {
	var signals []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var direction string
		var metadata []byte

		if err := rows.Scan(
			&sig.ID, &sig.MarketID, &sig.Source, &sig.SourceType, &sig.Title,
			&sig.Sentiment, &sig.MatchQuality, &sig.Importance, &sig.Urgent,
			&direction, &sig.PublishedAt, &metadata,
		); err != nil {
			return nil, err
		}
		sig.Direction = domain.SignalDirection(direction)
		if metadata != nil {
			if err := json.Unmarshal(metadata, &sig.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal signal %s metadata: %w", sig.ID, err)
			}
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// ListFresh returns a market's signals published at or after since, newest
// first.
func (s *SignalStore) ListFresh(ctx context.Context, marketID string, since time.Time) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalSelectCols+` FROM signals
		 WHERE market_id = $1 AND published_at >= $2
		 ORDER BY published_at DESC`, marketID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fresh signals for %s: %w", marketID, err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fresh signals: %w", err)
	}
	return signals, nil
}

// PruneBefore deletes signals published before the cutoff and reports how
// many rows went.
func (s *SignalStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM signals WHERE published_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune signals before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
