// Package memory reports host memory figures and derives safe worker
// counts and chunk sizes from them.
package memory

import (
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/eargollo/piiscan/internal/config"
)

const (
	// bytesPerChar converts a memory budget into a character budget.
	bytesPerChar = 2

	minChunkMB    = 1.0
	maxChunkMB    = 50.0
	minChunkChars = 1000
	maxChunkChars = 50000

	// mbPerWorker is the memory headroom reserved for each detection worker.
	mbPerWorker = 200
	maxWorkers  = 8
)

// Figures is a point-in-time reading of host memory, in megabytes.
type Figures struct {
	TotalMB     float64
	AvailableMB float64
}

// Reader reads host memory figures.
type Reader interface {
	Read() (Figures, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func() (Figures, error)

// Read calls f.
func (f ReaderFunc) Read() (Figures, error) { return f() }

// Fixed returns a Reader that always reports the given figures.
func Fixed(totalMB, availableMB float64) Reader {
	return ReaderFunc(func() (Figures, error) {
		return Figures{TotalMB: totalMB, AvailableMB: availableMB}, nil
	})
}

// Monitor derives resource limits from host memory. It holds no mutable
// state and is safe for concurrent use.
type Monitor struct {
	cfg    config.Memory
	reader Reader
	numCPU int
}

// New creates a Monitor that reads the host's memory. A nil reader selects
// the platform reader.
func New(cfg config.Memory, reader Reader) *Monitor {
	if reader == nil {
		reader = systemReader{}
	}
	return &Monitor{cfg: cfg, reader: reader, numCPU: runtime.NumCPU()}
}

// WithCPUs returns a copy of m that assumes n CPUs. Used by tests.
func (m *Monitor) WithCPUs(n int) *Monitor {
	c := *m
	c.numCPU = n
	return &c
}

func (m *Monitor) figures() Figures {
	f, err := m.reader.Read()
	if err != nil || f.TotalMB <= 0 {
		if err != nil {
			slog.Debug("memory: falling back to configured figures", "error", err)
		}
		return Figures{TotalMB: m.cfg.FallbackTotalMB, AvailableMB: m.cfg.FallbackAvailableMB}
	}
	return f
}

// AvailableMB returns the memory currently available to new allocations.
func (m *Monitor) AvailableMB() float64 {
	return m.figures().AvailableMB
}

// TotalMB returns the host's total memory.
func (m *Monitor) TotalMB() float64 {
	return m.figures().TotalMB
}

// UsedFraction returns the used share of total memory in [0, 1].
func (m *Monitor) UsedFraction() float64 {
	f := m.figures()
	if f.TotalMB <= 0 {
		return 0
	}
	used := (f.TotalMB - f.AvailableMB) / f.TotalMB
	return clampFloat(used, 0, 1)
}

// OptimalChunkSize returns the chunk size, in characters, for a file of the
// given size. Ten percent of available memory is clamped to [1MB, 50MB],
// converted to characters, then clamped again to [1000, 50000].
func (m *Monitor) OptimalChunkSize(fileSizeMB float64) int {
	return ChunkSizeFor(m.AvailableMB())
}

// ChunkSizeFor applies the two-stage chunk clamp to an available-memory
// figure.
func ChunkSizeFor(availableMB float64) int {
	budgetMB := clampFloat(availableMB*0.1, minChunkMB, maxChunkMB)
	chars := int(budgetMB * 1024 * 1024 / bytesPerChar)
	return clampInt(chars, minChunkChars, maxChunkChars)
}

// OptimalWorkers returns min(cpus, totalGB*1024/200, 8), floored at 1.
func (m *Monitor) OptimalWorkers() int {
	byMemory := int(m.TotalMB() / mbPerWorker)
	n := min(m.numCPU, byMemory, maxWorkers)
	return max(n, 1)
}

// ShouldReclaim reports whether used memory exceeds the configured threshold.
func (m *Monitor) ShouldReclaim() bool {
	return m.UsedFraction() > m.cfg.ReclaimThreshold
}

// CleanupIfNeeded runs a reclamation pass when ShouldReclaim is true and
// reports whether it did.
func (m *Monitor) CleanupIfNeeded() bool {
	if !m.ShouldReclaim() {
		return false
	}
	runtime.GC()
	debug.FreeOSMemory()
	slog.Debug("memory: reclamation pass", "used_fraction", m.UsedFraction())
	return true
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
