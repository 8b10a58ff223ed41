package checkpoint

import (
	"slices"

	"github.com/eargollo/piiscan/internal/detect"
	"github.com/eargollo/piiscan/internal/strategy"
)

// Progress is the resumable state of one file's scan. Chunk indexes below
// Watermark are all complete; Completed lists completed indexes at or above
// it, sorted.
type Progress struct {
	OperationID    string             `json:"operation_id,omitempty"`
	Strategy       strategy.Strategy  `json:"strategy"`
	ChunkSize      int                `json:"chunk_size"`
	Overlap        int                `json:"overlap"`
	Watermark      int                `json:"watermark"`
	Completed      []int              `json:"completed,omitempty"`
	Summary        detect.FileSummary `json:"summary"`
	BytesProcessed int64              `json:"bytes_processed"`
	ChunksFailed   int                `json:"chunks_failed"`
}

// Done reports whether chunk i has been completed.
func (p *Progress) Done(i int) bool {
	if i < p.Watermark {
		return true
	}
	_, found := slices.BinarySearch(p.Completed, i)
	return found
}

// MarkDone records chunk i as complete and advances the watermark over any
// contiguous run.
func (p *Progress) MarkDone(i int) {
	if p.Done(i) {
		return
	}
	pos, _ := slices.BinarySearch(p.Completed, i)
	p.Completed = slices.Insert(p.Completed, pos, i)
	n := 0
	for n < len(p.Completed) && p.Completed[n] == p.Watermark {
		p.Watermark++
		n++
	}
	p.Completed = p.Completed[n:]
	if len(p.Completed) == 0 {
		p.Completed = nil
	}
}

// ChunksDone returns the number of completed chunks.
func (p *Progress) ChunksDone() int {
	return p.Watermark + len(p.Completed)
}

// Compatible reports whether a run with the given parameters can resume from
// p without changing which chunks exist.
func (p *Progress) Compatible(s strategy.Strategy, chunkSize, overlap int) bool {
	return p.Strategy == s && p.ChunkSize == chunkSize && p.Overlap == overlap
}

// Clone returns a deep copy of p.
func (p Progress) Clone() Progress {
	c := p
	c.Completed = slices.Clone(p.Completed)
	c.Summary = p.Summary.Clone()
	return c
}
