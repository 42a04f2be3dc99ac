package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/logging"
	"notespace/internal/store"
)

type fakeDeleter struct {
	mu        sync.Mutex
	remaining int64
	calls     []int
	cutoffs   []time.Time
	failAt    int
	err       error
}

func (f *fakeDeleter) DeleteHistoryBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, limit)
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil && len(f.calls) == f.failAt {
		return 0, f.err
	}
	n := int64(limit)
	if f.remaining < n {
		n = f.remaining
	}
	f.remaining -= n
	return n, nil
}

func TestSweeperRunDeletesInBatches(t *testing.T) {
	deleter := &fakeDeleter{remaining: 2500}
	sweeper := NewSweeper(deleter, 1000, 0, logging.Nop())
	fixed := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	sweeper.now = func() time.Time { return fixed }

	total, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2500), total)
	assert.Equal(t, []int{1000, 1000, 1000}, deleter.calls)
	for _, cutoff := range deleter.cutoffs {
		assert.True(t, cutoff.Equal(fixed.Add(-Window)))
	}
}

func TestSweeperRunStopsAfterExactFinalBatch(t *testing.T) {
	deleter := &fakeDeleter{remaining: 2000}
	total, err := NewSweeper(deleter, 1000, 0, logging.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), total)
	assert.Len(t, deleter.calls, 3, "a full batch is followed by one more query")
}

func TestSweeperRunReportsPartialCountOnError(t *testing.T) {
	boom := errors.New("lock timeout")
	deleter := &fakeDeleter{remaining: 5000, failAt: 2, err: boom}
	total, err := NewSweeper(deleter, 1000, 0, logging.Nop()).Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1000), total)
}

func TestSweeperPauseHonoursCancellation(t *testing.T) {
	deleter := &fakeDeleter{remaining: 5000}
	sweeper := NewSweeper(deleter, 1000, time.Hour, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	total, err := sweeper.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1000), total)
}

func TestSweeperStartRunsImmediatelyAndStops(t *testing.T) {
	deleter := &fakeDeleter{remaining: 10}
	sweeper := NewSweeper(deleter, 1000, 0, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := sweeper.Start(ctx, time.Hour)
	require.Eventually(t, func() bool {
		deleter.mu.Lock()
		defer deleter.mu.Unlock()
		return len(deleter.calls) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeperAgainstStoreKeepsRecentSnapshots(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	now := time.Now().UTC()
	for i, age := range []time.Duration{10 * 24 * time.Hour, 8 * 24 * time.Hour, time.Hour} {
		require.NoError(t, e.store.InsertHistory(ctx, store.NoteHistory{
			ID: uuid.New(), NoteID: e.note.ID, UserID: e.editor.ID, Title: string(rune('a' + i)),
			Status: store.StatusDraft, Visibility: store.VisibilityPrivate, CreatedAt: now.Add(-age),
		}))
	}

	total, err := NewSweeper(e.store, 1, 0, logging.Nop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	items, err := e.store.ListHistory(ctx, e.note.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].Title)
}
