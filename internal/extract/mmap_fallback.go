//go:build !linux && !darwin

package extract

import (
	"context"
	"iter"
	"log/slog"
)

func (s *Source) mappedChunks(ctx context.Context) iter.Seq2[Chunk, error] {
	slog.Debug("memory mapping unavailable on this platform, reading sequentially", "path", s.path)
	return s.textChunks(ctx)
}
