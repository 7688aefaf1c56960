package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrueger/edgebot/internal/domain"
)

var intakeNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func intakeLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStreamBus serves canned stream pages in order, then reports empty.
type fakeStreamBus struct {
	pages   [][]domain.StreamMessage
	readErr error
	lastIDs []string
}

func (b *fakeStreamBus) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeStreamBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}
func (b *fakeStreamBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeStreamBus) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	b.lastIDs = append(b.lastIDs, lastID)
	if b.readErr != nil {
		return nil, b.readErr
	}
	if len(b.pages) == 0 {
		return nil, nil
	}
	page := b.pages[0]
	b.pages = b.pages[1:]
	return page, nil
}

type fakeSignalStore struct {
	batches   [][]domain.Signal
	insertErr error
	pruned    []time.Time
}

func (f *fakeSignalStore) InsertBatch(_ context.Context, sigs []domain.Signal) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.batches = append(f.batches, sigs)
	return nil
}

func (f *fakeSignalStore) ListFresh(context.Context, string, time.Time) ([]domain.Signal, error) {
	return nil, nil
}

func (f *fakeSignalStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.pruned = append(f.pruned, cutoff)
	return 3, nil
}

func wirePayload(t *testing.T, id string, mutate func(*wireSignal)) []byte {
	t.Helper()
	raw := wireSignal{
		ID:           id,
		MarketID:     "mkt-1",
		Source:       "CoinDesk",
		SourceType:   "news",
		Title:        "headline",
		Sentiment:    0.6,
		MatchQuality: 0.8,
		Importance:   4,
		Direction:    "up",
		PublishedAt:  intakeNow.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&raw)
	}
	buf, err := json.Marshal(raw)
	require.NoError(t, err)
	return buf
}

func TestDrainIngestsAndAdvances(t *testing.T) {
	bus := &fakeStreamBus{pages: [][]domain.StreamMessage{
		{
			{ID: "1-0", Payload: wirePayload(t, "sig-a", nil)},
			{ID: "2-0", Payload: wirePayload(t, "sig-b", nil)},
		},
	}}
	store := &fakeSignalStore{}
	w := NewSignalIntake(IntakeConfig{}, bus, store, intakeLogger())

	require.NoError(t, w.Drain(context.Background()))

	require.Len(t, store.batches, 1)
	require.Len(t, store.batches[0], 2)
	assert.Equal(t, "sig-a", store.batches[0][0].ID)
	assert.Equal(t, "coindesk", store.batches[0][0].Source, "source is normalized at the boundary")
	assert.Equal(t, "2-0", w.lastID)

	// First read starts from the beginning, second resumes past the page.
	assert.Equal(t, []string{"0", "2-0"}, bus.lastIDs)
}

func TestDrainDropsMalformedItems(t *testing.T) {
	bus := &fakeStreamBus{pages: [][]domain.StreamMessage{
		{
			{ID: "1-0", Payload: []byte("{not json")},
			{ID: "2-0", Payload: wirePayload(t, "", nil)}, // no id, no dedup key
			{ID: "3-0", Payload: wirePayload(t, "sig-bad", func(s *wireSignal) { s.Sentiment = 4 })},
			{ID: "4-0", Payload: wirePayload(t, "sig-ok", nil)},
		},
	}}
	store := &fakeSignalStore{}
	w := NewSignalIntake(IntakeConfig{}, bus, store, intakeLogger())

	require.NoError(t, w.Drain(context.Background()))

	require.Len(t, store.batches, 1)
	require.Len(t, store.batches[0], 1)
	assert.Equal(t, "sig-ok", store.batches[0][0].ID)
	assert.Equal(t, "4-0", w.lastID, "consumed ID advances past dropped items")
}

func TestDrainLoopsUntilEmpty(t *testing.T) {
	bus := &fakeStreamBus{pages: [][]domain.StreamMessage{
		{{ID: "1-0", Payload: wirePayload(t, "sig-a", nil)}},
		{{ID: "2-0", Payload: wirePayload(t, "sig-b", nil)}},
	}}
	store := &fakeSignalStore{}
	w := NewSignalIntake(IntakeConfig{}, bus, store, intakeLogger())

	require.NoError(t, w.Drain(context.Background()))

	assert.Len(t, store.batches, 2)
	assert.Equal(t, "2-0", w.lastID)
}

func TestDrainInsertFailureHoldsPosition(t *testing.T) {
	bus := &fakeStreamBus{pages: [][]domain.StreamMessage{
		{{ID: "5-0", Payload: wirePayload(t, "sig-a", nil)}},
	}}
	store := &fakeSignalStore{insertErr: errors.New("pg down")}
	w := NewSignalIntake(IntakeConfig{}, bus, store, intakeLogger())

	err := w.Drain(context.Background())
	require.Error(t, err)
	assert.Equal(t, "0", w.lastID, "failed batch is re-read next drain")
}

func TestDrainIdleTimeoutIsQuiet(t *testing.T) {
	bus := &fakeStreamBus{readErr: fmt.Errorf("redis: stream read signals: %w", context.DeadlineExceeded)}
	store := &fakeSignalStore{}
	w := NewSignalIntake(IntakeConfig{}, bus, store, intakeLogger())

	assert.NoError(t, w.Drain(context.Background()), "an empty poll window is not an error")
	assert.Empty(t, store.batches)
}

func TestDecodeSignalDirectionDefault(t *testing.T) {
	sig, err := decodeSignal(wirePayload(t, "sig-a", func(s *wireSignal) { s.Direction = "" }))
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionUnknown, sig.Direction)

	_, err = decodeSignal(wirePayload(t, "sig-b", func(s *wireSignal) { s.Direction = "sideways" }))
	require.Error(t, err, "unknown direction labels fail validation")
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}

func TestPruneUsesRetentionHorizon(t *testing.T) {
	store := &fakeSignalStore{}
	w := NewSignalIntake(IntakeConfig{MaxAge: 48 * time.Hour}, &fakeStreamBus{}, store, intakeLogger())

	w.prune(context.Background())

	require.Len(t, store.pruned, 1)
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), store.pruned[0], 5*time.Second)
}
