package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/piiscan/internal/scan"
)

type fakeStarter struct {
	calls atomic.Int32
	busy  atomic.Bool
}

func (f *fakeStarter) Start(ctx context.Context, triggeredBy string) (*scan.ActiveScan, error) {
	f.calls.Add(1)
	if f.busy.Load() {
		return nil, scan.ErrAlreadyRunning
	}
	return &scan.ActiveScan{RunID: 1, TriggeredBy: triggeredBy}, nil
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 10s", Every(10))
}

func TestWatchSetsJob(t *testing.T) {
	s := New()
	require.NoError(t, s.Watch(context.Background(), &fakeStarter{}, 30))
	assert.Equal(t, "@every 30s", s.CronExpr())

	s.Start()
	defer s.Stop()
	next := s.NextRunAt()
	require.NotNil(t, next)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), *next, 2*time.Second)
}

func TestSetJobRejectsBadExpr(t *testing.T) {
	s := New()
	require.Error(t, s.SetJob("not a cron", func() {}))
	assert.Nil(t, s.NextRunAt())
}

func TestScanJobToleratesBusyAndCancelled(t *testing.T) {
	f := &fakeStarter{}
	ctx, cancel := context.WithCancel(context.Background())
	job := ScanJob(ctx, f)

	job()
	f.busy.Store(true)
	job()
	assert.Equal(t, int32(2), f.calls.Load())

	cancel()
	job()
	assert.Equal(t, int32(2), f.calls.Load(), "no start after shutdown")
}
