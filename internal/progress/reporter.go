package progress

import (
	"context"
	"sync"
	"time"
)

// RenderFunc draws one snapshot. final is true for the last call made by
// Stop.
type RenderFunc func(s Stats, final bool)

// Reporter polls a Tracker on a fixed interval and renders it.
type Reporter struct {
	Tracker  *Tracker
	Interval time.Duration
	Render   RenderFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the polling goroutine. Calling Start on a running Reporter
// is a no-op.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Render(r.Tracker.Stats(), false)
			case <-ctx.Done():
				return
			}
		}
	}(r.done)
}

// Stop halts polling and renders one final snapshot so the display ends on
// the last counters. Stop without Start still renders the final snapshot.
func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	r.Render(r.Tracker.Stats(), true)
}
