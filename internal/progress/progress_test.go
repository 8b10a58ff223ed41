package progress

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTrackerDerivedStats(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	tr := newWithClock(clk.Now)
	tr.SetTotal(100)
	tr.Update(Delta{Items: 25, Entities: 3, Controlled: 2, NonControlled: 1, Bytes: 5000})
	tr.IncrementFiles()
	clk.Advance(5 * time.Second)

	s := tr.Stats()
	assert.Equal(t, int64(25), s.ProcessedItems)
	assert.Equal(t, int64(3), s.EntitiesFound)
	assert.Equal(t, int64(1), s.FilesProcessed)
	assert.InDelta(t, 5.0, s.ItemsPerSecond, 1e-9)
	assert.InDelta(t, 1000.0, s.BytesPerSecond, 1e-9)
	assert.InDelta(t, 25.0, s.Percent, 1e-9)
	assert.Equal(t, 15*time.Second, s.ETA)
}

func TestTrackerUnknownTotal(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	tr := newWithClock(clk.Now)
	tr.Update(Delta{Items: 10})
	clk.Advance(time.Second)

	s := tr.Stats()
	assert.Equal(t, -1.0, s.Percent)
	assert.Zero(t, s.ETA)
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				tr.Update(Delta{Items: 1, Entities: 2, Bytes: 3})
				_ = tr.Stats()
			}
		}()
	}
	wg.Wait()

	s := tr.Stats()
	assert.Equal(t, int64(8000), s.ProcessedItems)
	assert.Equal(t, int64(16000), s.EntitiesFound)
	assert.Equal(t, int64(24000), s.BytesProcessed)
}

func TestReporterStopRendersFinal(t *testing.T) {
	tr := New()
	var mu sync.Mutex
	var last Stats
	finals := 0
	r := &Reporter{
		Tracker:  tr,
		Interval: time.Millisecond,
		Render: func(s Stats, final bool) {
			mu.Lock()
			defer mu.Unlock()
			last = s
			if final {
				finals++
			}
		},
	}
	r.Start(context.Background())
	tr.Update(Delta{Items: 7})
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, finals)
	assert.Equal(t, int64(7), last.ProcessedItems, "final render sees the last update")
}

func TestConsoleRenderer(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	render := ConsoleRenderer(&buf)

	render(Stats{ProcessedItems: 1, TotalItems: 4, Percent: 25, EntitiesFound: 2, Controlled: 1, NonControlled: 1, BytesProcessed: 2048}, false)
	render(Stats{ProcessedItems: 4, TotalItems: 4, Percent: 100, EntitiesFound: 2, Controlled: 1, NonControlled: 1}, true)

	out := buf.String()
	require.Contains(t, out, "25.0% (1/4)")
	assert.Contains(t, out, "1 controlled")
	assert.Contains(t, out, "2.0 kB")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n")))
}
