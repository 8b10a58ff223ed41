package scan

import (
	"container/heap"
	"context"
	"path/filepath"
	"strings"
)

// PriorityExtensions are scanned before any other eligible file.
var PriorityExtensions = map[string]bool{
	".csv": true, ".tsv": true, ".json": true, ".xml": true, ".sql": true,
	".txt": true, ".md": true, ".pdf": true, ".doc": true, ".docx": true, ".rtf": true,
	".html": true, ".htm": true,
	".log": true, ".out": true, ".err": true,
}

func tier(path string) int {
	if PriorityExtensions[strings.ToLower(filepath.Ext(path))] {
		return 0
	}
	return 1
}

type queued struct {
	FileInfo
	tier int
}

// fileHeap is a min-heap ordered by (tier, size).
type fileHeap []queued

func (h fileHeap) Len() int { return len(h) }
func (h fileHeap) Less(i, j int) bool {
	if h[i].tier != h[j].tier {
		return h[i].tier < h[j].tier
	}
	return h[i].Size < h[j].Size
}
func (h fileHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *fileHeap) Push(x any)   { *h = append(*h, x.(queued)) }
func (h *fileHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// RunPriorityQueue buffers incoming files in a heap and dispatches the best
// one whenever the consumer is ready: priority extensions first, then the
// smallest file. Ordering is best-effort since dispatch races with arrival.
//
// out is closed when in is exhausted or ctx is cancelled.
func RunPriorityQueue(ctx context.Context, in <-chan FileInfo, out chan<- FileInfo) {
	go func() {
		defer close(out)

		h := &fileHeap{}
		for {
			if h.Len() > 0 {
				select {
				case fi, ok := <-in:
					if !ok {
						for h.Len() > 0 {
							item := heap.Pop(h).(queued)
							select {
							case out <- item.FileInfo:
							case <-ctx.Done():
								return
							}
						}
						return
					}
					heap.Push(h, queued{FileInfo: fi, tier: tier(fi.Path)})
				case out <- (*h)[0].FileInfo:
					heap.Pop(h)
				case <-ctx.Done():
					return
				}
			} else {
				select {
				case fi, ok := <-in:
					if !ok {
						return
					}
					heap.Push(h, queued{FileInfo: fi, tier: tier(fi.Path)})
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}
