package strategy

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eargollo/piiscan/internal/memory"
)

const (
	sampleSize      = 8 * 1024
	commaWindow     = 1000
	structuredLines = 5
	mb              = 1024 * 1024
)

var structuredExts = map[string]bool{".csv": true, ".tsv": true, ".json": true, ".xml": true}

// Profile describes a file and the decision made for it. It is not persisted.
type Profile struct {
	SizeBytes         int64    `json:"size_bytes"`
	Extension         string   `json:"extension"`
	IsStructured      bool     `json:"is_structured"`
	IsBinary          bool     `json:"is_binary"`
	SampledLineCount  int      `json:"sampled_line_count"`
	AvailableMemoryMB float64  `json:"available_memory_mb"`
	Strategy          Strategy `json:"strategy"`
	ChunkSize         int      `json:"chunk_size"`
	EstimatedChunks   int      `json:"estimated_chunks"`
}

// SizeMB returns the file size in megabytes.
func (p Profile) SizeMB() float64 {
	return float64(p.SizeBytes) / mb
}

// Selector profiles files. It is safe for concurrent use.
type Selector struct {
	mem *memory.Monitor
}

// NewSelector returns a Selector backed by mem.
func NewSelector(mem *memory.Monitor) *Selector {
	return &Selector{mem: mem}
}

// Select samples path and returns its profile with the chosen strategy.
func (s *Selector) Select(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Profile{}, fmt.Errorf("stat %q: %w", path, err)
	}

	buf := make([]byte, sampleSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return Profile{}, fmt.Errorf("sample %q: %w", path, err)
	}
	sample := buf[:n]

	p := Profile{
		SizeBytes:         info.Size(),
		Extension:         strings.ToLower(filepath.Ext(path)),
		IsBinary:          bytes.IndexByte(sample, 0) >= 0,
		SampledLineCount:  bytes.Count(sample, []byte{'\n'}),
		AvailableMemoryMB: s.mem.AvailableMB(),
	}
	p.IsStructured = structuredExts[p.Extension] ||
		(bytes.IndexByte(sample[:min(len(sample), commaWindow)], ',') >= 0 && p.SampledLineCount > structuredLines)

	p.Strategy = Decide(p)
	p.ChunkSize = s.mem.OptimalChunkSize(p.SizeMB())
	p.EstimatedChunks = max(int(p.SizeMB()/5), 1)
	return p, nil
}

// Decide applies the strategy table to a profile; the first matching rule
// wins.
func Decide(p Profile) Strategy {
	sizeMB := p.SizeMB()
	switch {
	case p.IsBinary:
		if sizeMB > 100 {
			return ChunkedStreaming
		}
		return Standard
	case p.Extension == ".csv" && sizeMB > 50:
		return CSVStreaming
	case sizeMB > 500 && !p.IsStructured:
		if sizeMB < p.AvailableMemoryMB*0.5 {
			return MemoryMapped
		}
		return ParallelChunks
	case sizeMB > 100:
		return ParallelChunks
	case sizeMB > 20:
		return ChunkedStreaming
	default:
		return Standard
	}
}
