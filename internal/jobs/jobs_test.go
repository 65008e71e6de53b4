package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/plinko-engine/internal/logging"
	"github.com/MJE43/plinko-engine/internal/store"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int64
	err     error
}

func (f *fakePruner) PruneScanRuns(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.n, f.err
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestNewRetentionRejectsNonPositiveAge(t *testing.T) {
	_, err := NewRetention(&fakePruner{}, 0, logging.Discard())
	require.Error(t, err)
	_, err = NewRetention(&fakePruner{}, -time.Hour, logging.Discard())
	require.Error(t, err)
}

func TestRetentionCutoff(t *testing.T) {
	p := &fakePruner{n: 3}
	r, err := NewRetention(p, 48*time.Hour, logging.Discard())
	require.NoError(t, err)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	n, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, p.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), p.cutoffs[0])
}

func TestRetentionError(t *testing.T) {
	r, err := NewRetention(&fakePruner{err: errors.New("database is locked")}, time.Hour, logging.Discard())
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestRetentionAgainstStore(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "plinko.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	run := &store.ScanRun{Mode: "walk", Rows: 8, Risk: "low", Histogram: []uint64{1}, EngineVersion: "test"}
	require.NoError(t, db.SaveScanRun(ctx, run))

	r, err := NewRetention(db, time.Hour, logging.Discard())
	require.NoError(t, err)

	// Fresh runs survive.
	n, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Move the clock forward past the retention window.
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.GetScanRun(ctx, run.ID)
	assert.ErrorIs(t, err, store.ErrScanRunNotFound)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	r, err := NewRetention(&fakePruner{}, time.Hour, logging.Discard())
	require.NoError(t, err)

	s := NewScheduler(logging.Discard())
	require.Error(t, s.AddRetention("not a schedule", r))
	assert.Equal(t, 0, s.Jobs())
}

func TestSchedulerRunsRetention(t *testing.T) {
	p := &fakePruner{}
	r, err := NewRetention(p, time.Hour, logging.Discard())
	require.NoError(t, err)

	s := NewScheduler(logging.Discard())
	require.NoError(t, s.AddRetention("@every 1s", r))
	assert.Equal(t, 1, s.Jobs())

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return p.calls() >= 1 }, 5*time.Second, 50*time.Millisecond)
}
