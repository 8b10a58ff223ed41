package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

var delimiters = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate delimiter that occurs most often in the
// first line of sample, defaulting to a comma.
func sniffDelimiter(sample []byte) rune {
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		sample = sample[:i]
	}
	best, bestN := ',', 0
	for _, d := range delimiters {
		if n := bytes.Count(sample, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

// csvChunks batches rows, cells trimmed and space-joined and rows joined by
// newlines, until a chunk reaches ChunkSize characters. Rows never straddle
// chunks, so chunks carry no overlap.
func (s *Source) csvChunks(ctx context.Context) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer f.Close()

		br := bufio.NewReaderSize(f, 64*1024)
		sample, _ := br.Peek(4096)

		r := csv.NewReader(br)
		r.Comma = sniffDelimiter(sample)
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		r.ReuseRecord = true

		var (
			sb     strings.Builder
			chars  int
			offset int64
			index  int
		)
		flush := func() bool {
			if sb.Len() == 0 {
				return true
			}
			text := sb.String()
			c := Chunk{Index: index, Offset: offset, Text: text, Owned: len(text), Bytes: int64(len(text))}
			// The newline separating chunks counts toward the offset.
			offset += int64(len(text)) + 1
			index++
			sb.Reset()
			chars = 0
			return yield(c, nil)
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(Chunk{}, err)
				return
			}
			rec, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				var pe *csv.ParseError
				if errors.As(err, &pe) {
					slog.Warn("csv: skipping malformed row", "path", s.path, "line", pe.Line, "error", pe.Err)
					continue
				}
				yield(Chunk{}, err)
				return
			}

			row := joinCells(rec)
			if row == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
				chars++
			}
			sb.WriteString(row)
			chars += utf8.RuneCountInString(row)
			if chars >= s.opts.ChunkSize && !flush() {
				return
			}
		}
		flush()
	}
}

func joinCells(rec []string) string {
	var sb strings.Builder
	for _, cell := range rec {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(cell)
	}
	return sb.String()
}
