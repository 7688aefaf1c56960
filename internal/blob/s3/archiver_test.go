package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrueger/edgebot/internal/domain"
)

var archiveCutoff = time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)

type fakeWriter struct {
	puts map[string][]byte
	err  error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	w.puts[path] = buf
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type fakePositions struct {
	positions []domain.Position
	err       error
}

func (f *fakePositions) ListClosedBefore(context.Context, time.Time) ([]domain.Position, error) {
	return f.positions, f.err
}

type fakeEntries struct {
	entries []domain.AuditEntry
}

func (f *fakeEntries) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return f.entries, nil
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAudit) ListSince(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func closedPosition(id string) domain.Position {
	closed := archiveCutoff.Add(-24 * time.Hour)
	return domain.Position{
		ID:          id,
		MarketID:    "mkt-1",
		Strategy:    "primary",
		Status:      domain.PositionStatusClosed,
		EntryPrice:  0.42,
		ExitPrice:   0.61,
		Shares:      100,
		RealizedPnL: 19,
		ClosedAt:    &closed,
	}
}

func TestArchiveClosedPositionsWritesJSONL(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	arch := NewArchiver(writer,
		&fakePositions{positions: []domain.Position{closedPosition("pos-1"), closedPosition("pos-2")}},
		&fakeEntries{},
		audit,
	)

	count, err := arch.ArchiveClosedPositions(context.Background(), archiveCutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	body, ok := writer.puts["archive/positions/2026-02.jsonl"]
	require.True(t, ok, "expected upload under the cutoff's year-month partition")

	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 2)
	var first domain.Position
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "pos-1", first.ID)

	assert.Equal(t, []string{"archive.positions"}, audit.events)
}

func TestArchiveClosedPositionsEmptyIsNoop(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	arch := NewArchiver(writer, &fakePositions{}, &fakeEntries{}, audit)

	count, err := arch.ArchiveClosedPositions(context.Background(), archiveCutoff)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.puts, "no upload for an empty batch")
	assert.Empty(t, audit.events)
}

func TestArchiveClosedPositionsUploadFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bucket unreachable")}
	audit := &fakeAudit{}
	arch := NewArchiver(writer,
		&fakePositions{positions: []domain.Position{closedPosition("pos-1")}},
		&fakeEntries{},
		audit,
	)

	_, err := arch.ArchiveClosedPositions(context.Background(), archiveCutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload")
	assert.Empty(t, audit.events, "failed uploads are not audited as archived")
}

func TestArchiveAuditWritesJSONL(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	arch := NewArchiver(writer,
		&fakePositions{},
		&fakeEntries{entries: []domain.AuditEntry{
			{ID: 1, Event: "position_opened", CreatedAt: archiveCutoff.Add(-48 * time.Hour)},
			{ID: 2, Event: "position_closed", CreatedAt: archiveCutoff.Add(-24 * time.Hour)},
			{ID: 3, Event: "cycle_error", CreatedAt: archiveCutoff.Add(-time.Hour)},
		}},
		audit,
	)

	count, err := arch.ArchiveAudit(context.Background(), archiveCutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	body, ok := writer.puts["archive/audit/2026-02.jsonl"]
	require.True(t, ok)
	assert.Equal(t, 3, bytes.Count(body, []byte("\n")))

	assert.Equal(t, []string{"archive.audit"}, audit.events)
}

func TestMarshalJSONLCompactLines(t *testing.T) {
	buf, err := marshalJSONL([]map[string]string{{"k": "<v>"}})
	require.NoError(t, err)
	// HTML escaping is off so payloads stay grep-able in the archive.
	assert.Equal(t, "{\"k\":\"<v>\"}\n", string(buf))
}
