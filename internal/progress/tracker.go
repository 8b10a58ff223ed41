// Package progress tracks scan counters and renders them periodically.
package progress

import (
	"sync"
	"time"
)

// Delta is one increment of the tracker counters.
type Delta struct {
	Items         int64
	Entities      int64
	Controlled    int64
	NonControlled int64
	Bytes         int64
}

// Stats is a point-in-time snapshot of a Tracker with derived rates.
type Stats struct {
	ProcessedItems int64 `json:"processed_items"`
	TotalItems     int64 `json:"total_items"`
	EntitiesFound  int64 `json:"entities_found"`
	Controlled     int64 `json:"controlled"`
	NonControlled  int64 `json:"noncontrolled"`
	BytesProcessed int64 `json:"bytes_processed"`
	FilesProcessed int64 `json:"files_processed"`

	Elapsed        time.Duration `json:"elapsed"`
	ItemsPerSecond float64       `json:"items_per_second"`
	BytesPerSecond float64       `json:"bytes_per_second"`
	// Percent is -1 while the total is unknown.
	Percent float64 `json:"percent"`
	// ETA is zero while the total or the rate is unknown.
	ETA time.Duration `json:"eta"`
}

// Tracker accumulates counters from concurrent workers. One mutex guards all
// counters; the zero value is not usable, call New.
type Tracker struct {
	mu      sync.Mutex
	start   time.Time
	now     func() time.Time
	counts  Stats
	totalOK bool
}

// New returns a Tracker whose clock starts now.
func New() *Tracker {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Tracker {
	return &Tracker{start: now(), now: now}
}

// SetTotal sets the number of items expected. It may be raised as estimates
// improve.
func (t *Tracker) SetTotal(n int64) {
	t.mu.Lock()
	t.counts.TotalItems = n
	t.totalOK = n > 0
	t.mu.Unlock()
}

// AddTotal raises the expected item count by n.
func (t *Tracker) AddTotal(n int64) {
	t.mu.Lock()
	t.counts.TotalItems += n
	t.totalOK = t.counts.TotalItems > 0
	t.mu.Unlock()
}

// Update adds d to the counters.
func (t *Tracker) Update(d Delta) {
	t.mu.Lock()
	t.counts.ProcessedItems += d.Items
	t.counts.EntitiesFound += d.Entities
	t.counts.Controlled += d.Controlled
	t.counts.NonControlled += d.NonControlled
	t.counts.BytesProcessed += d.Bytes
	t.mu.Unlock()
}

// IncrementFiles counts one finished file.
func (t *Tracker) IncrementFiles() {
	t.mu.Lock()
	t.counts.FilesProcessed++
	t.mu.Unlock()
}

// Stats returns a snapshot. Derived fields are computed after the lock is
// released.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	s := t.counts
	totalOK := t.totalOK
	t.mu.Unlock()

	s.Elapsed = t.now().Sub(t.start)
	s.Percent = -1
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.ItemsPerSecond = float64(s.ProcessedItems) / secs
		s.BytesPerSecond = float64(s.BytesProcessed) / secs
	}
	if totalOK {
		s.Percent = min(100, 100*float64(s.ProcessedItems)/float64(s.TotalItems))
		if remaining := s.TotalItems - s.ProcessedItems; remaining > 0 && s.ItemsPerSecond > 0 {
			s.ETA = time.Duration(float64(remaining) / s.ItemsPerSecond * float64(time.Second))
		}
	}
	return s
}
