package scan

import (
	"context"

	"github.com/eargollo/piiscan/internal/dedup"
)

// RunDedupCheck looks up each walked file in the dedup index. Files that are
// unchanged since they were last processed go to dups; the rest go to fresh.
// Both outputs are closed when in is exhausted or ctx is cancelled.
func RunDedupCheck(ctx context.Context, index *dedup.Index, in <-chan FileInfo, fresh, dups chan<- FileInfo) {
	go func() {
		defer close(fresh)
		defer close(dups)

		for {
			select {
			case <-ctx.Done():
				return
			case fi, ok := <-in:
				if !ok {
					return
				}
				out := fresh
				if index.IsDuplicate(ctx, fi.Path) {
					out = dups
				}
				select {
				case out <- fi:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}
