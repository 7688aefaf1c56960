package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/dkrueger/edgebot/internal/domain"
)

// SignalStream is the Redis stream the ingestion collaborators append
// normalized signals to.
const SignalStream = "signals"

const (
	intakeReadTimeout = 5 * time.Second
	intakePruneEvery  = time.Hour
)

// IntakeConfig tunes the stream drain loop.
type IntakeConfig struct {
	Stream    string        // source stream, defaults to SignalStream
	Poll      time.Duration // idle wait between drains
	BatchSize int           // max entries per stream read
	MaxAge    time.Duration // Postgres retention horizon; 0 disables pruning
}

func (c IntakeConfig) withDefaults() IntakeConfig {
	if c.Stream == "" {
		c.Stream = SignalStream
	}
	if c.Poll <= 0 {
		c.Poll = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	return c
}

// SignalIntake drains collector output from the durable Redis stream into
// Postgres, where the scanner reads it. The stream is length-capped and
// collectors re-deliver items across runs, so the drain restarts from the
// beginning after a crash and relies on the store's insert idempotency to
// absorb replays.
type SignalIntake struct {
	cfg     IntakeConfig
	bus     domain.SignalBus
	signals domain.SignalStore
	logger  *slog.Logger

	lastID string
}

// NewSignalIntake creates an intake worker reading from the given bus into
// the given store.
func NewSignalIntake(cfg IntakeConfig, bus domain.SignalBus, signals domain.SignalStore, logger *slog.Logger) *SignalIntake {
	return &SignalIntake{
		cfg:     cfg.withDefaults(),
		bus:     bus,
		signals: signals,
		logger:  logger.With(slog.String("component", "intake")),
		lastID:  "0",
	}
}

// Run drains the stream until the context is cancelled. Drain failures are
// logged and retried on the next tick; only cancellation stops the loop.
func (w *SignalIntake) Run(ctx context.Context) error {
	w.logger.Info("signal intake started",
		slog.String("stream", w.cfg.Stream),
		slog.Duration("poll", w.cfg.Poll),
	)

	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()
	var lastPrune time.Time

	for {
		if err := w.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("signal intake stopped")
				return ctx.Err()
			}
			w.logger.Warn("signal drain failed", slog.String("error", err.Error()))
		}

		if w.cfg.MaxAge > 0 && time.Since(lastPrune) >= intakePruneEvery {
			w.prune(ctx)
			lastPrune = time.Now()
		}

		select {
		case <-ctx.Done():
			w.logger.Info("signal intake stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain reads stream batches from the last consumed ID until the stream is
// empty, inserting each batch. Entries that fail to decode or validate are
// dropped item by item; the consumed ID still advances past them so one bad
// payload cannot wedge the stream.
func (w *SignalIntake) Drain(ctx context.Context) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, intakeReadTimeout)
		msgs, err := w.bus.StreamRead(readCtx, w.cfg.Stream, w.lastID, w.cfg.BatchSize)
		cancel()
		if err != nil {
			if isIdleRead(err) {
				return nil
			}
			return fmt.Errorf("intake: stream read: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}

		batch := make([]domain.Signal, 0, len(msgs))
		for _, msg := range msgs {
			sig, err := decodeSignal(msg.Payload)
			if err != nil {
				w.logger.Warn("signal dropped",
					slog.String("stream_id", msg.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			batch = append(batch, sig)
		}

		if len(batch) > 0 {
			if err := w.signals.InsertBatch(ctx, batch); err != nil {
				return fmt.Errorf("intake: insert batch: %w", err)
			}
		}
		w.lastID = msgs[len(msgs)-1].ID

		w.logger.Debug("signals ingested",
			slog.Int("read", len(msgs)),
			slog.Int("stored", len(batch)),
			slog.String("last_id", w.lastID),
		)
	}
}

// prune trims signals past the retention horizon. Failures only log: stale
// rows cost disk, not correctness, since the scanner filters by freshness.
func (w *SignalIntake) prune(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.MaxAge)
	pruned, err := w.signals.PruneBefore(ctx, cutoff)
	if err != nil {
		w.logger.Warn("signal prune failed", slog.String("error", err.Error()))
		return
	}
	if pruned > 0 {
		w.logger.Info("signals pruned",
			slog.Int64("count", pruned),
			slog.Time("cutoff", cutoff),
		)
	}
}

// wireSignal is the collector payload shape. The stream carries snake_case
// JSON; the domain type stays tag-free.
type wireSignal struct {
	ID           string            `json:"id"`
	MarketID     string            `json:"market_id"`
	Source       string            `json:"source"`
	SourceType   string            `json:"source_type"`
	Title        string            `json:"title"`
	Sentiment    float64           `json:"sentiment"`
	MatchQuality float64           `json:"match_quality"`
	Importance   int               `json:"importance"`
	Urgent       bool              `json:"urgent"`
	Direction    string            `json:"direction"`
	PublishedAt  time.Time         `json:"published_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// decodeSignal parses one stream payload into a validated domain signal.
// Insert idempotency keys on the collector-assigned ID, so payloads without
// one are rejected rather than deduplicated wrongly.
func decodeSignal(payload []byte) (domain.Signal, error) {
	var raw wireSignal
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	if raw.ID == "" {
		return domain.Signal{}, fmt.Errorf("decode signal: missing id: %w", domain.ErrDataIntegrity)
	}

	dir := domain.SignalDirection(raw.Direction)
	if raw.Direction == "" {
		dir = domain.DirectionUnknown
	}
	sig := domain.Signal{
		ID:           raw.ID,
		MarketID:     raw.MarketID,
		Source:       domain.NormalizeSource(raw.Source),
		SourceType:   raw.SourceType,
		Title:        raw.Title,
		Sentiment:    raw.Sentiment,
		MatchQuality: raw.MatchQuality,
		Importance:   raw.Importance,
		Urgent:       raw.Urgent,
		Direction:    dir,
		PublishedAt:  raw.PublishedAt,
		Metadata:     raw.Metadata,
	}
	if err := sig.Validate(); err != nil {
		return domain.Signal{}, err
	}
	return sig, nil
}

// isIdleRead reports whether a stream read ended because nothing arrived
// within the poll window rather than because Redis failed.
func isIdleRead(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
