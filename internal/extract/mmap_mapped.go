//go:build linux || darwin

package extract

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// mappedChunks windows a read-only memory mapping of the file. When the
// mapping cannot be created it falls back to sequential reads.
func (s *Source) mappedChunks(ctx context.Context) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			yield(Chunk{}, fmt.Errorf("stat %q: %w", s.path, err))
			return
		}
		if info.Size() == 0 {
			return
		}

		data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			slog.Warn("mmap failed, reading sequentially", "path", s.path, "error", err)
			windows(ctx, f, s.opts, yield)
			return
		}
		defer func() {
			if err := unix.Munmap(data); err != nil {
				slog.Warn("munmap", "path", s.path, "error", err)
			}
		}()
		_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

		windows(ctx, bytes.NewReader(data), s.opts, yield)
	}
}
