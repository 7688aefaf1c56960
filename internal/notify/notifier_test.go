package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersUnsubscribedEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventPositionClosed}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventPositionOpened, "opened", "x"))
	require.NoError(t, n.Notify(context.Background(), EventPositionClosed, "closed", "x"))

	assert.Equal(t, []string{"closed"}, s.titles)
}

func TestNotifierEmptySubscriptionAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventCycleError, "boom", "x"))
	require.NoError(t, n.Notify(context.Background(), EventLeaderboard, "board", "x"))

	assert.Len(t, s.titles, 2)
}

func TestNotifierDeliversPastFailingSender(t *testing.T) {
	broken := &fakeSender{name: "broken", err: errors.New("api down")}
	ok := &fakeSender{name: "ok"}
	n := NewNotifier([]Sender{broken, ok}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "title", "body")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"title"}, ok.titles)
}

func TestNotifierNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.NoError(t, n.NotifyAll(context.Background(), "title", "body"))
}
