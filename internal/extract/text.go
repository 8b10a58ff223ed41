package extract

import (
	"bufio"
	"context"
	"io"
	"iter"
	"os"
	"unicode/utf8"
)

func (s *Source) textChunks(ctx context.Context) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer f.Close()
		windows(ctx, f, s.opts, yield)
	}
}

// windows cuts r into rune windows of opts.ChunkSize runes stepping
// ChunkSize-Overlap. Every chunk after the first also carries Overlap runes
// of lead-in before its owned range. Invalid UTF-8 decodes to U+FFFD.
func windows(ctx context.Context, r io.Reader, opts Options, yield func(Chunk, error) bool) {
	br := bufio.NewReaderSize(r, 64*1024)
	step := opts.ChunkSize - opts.Overlap

	var (
		buf    []rune
		lead   int
		offset int64
		index  int
		eof    bool
	)
	for {
		if err := ctx.Err(); err != nil {
			yield(Chunk{}, err)
			return
		}
		for !eof && len(buf) < lead+opts.ChunkSize {
			ch, _, err := br.ReadRune()
			if err == io.EOF {
				eof = true
				break
			}
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			buf = append(buf, ch)
		}
		if len(buf) == lead {
			return
		}
		if !eof {
			if _, err := br.Peek(1); err == io.EOF {
				eof = true
			}
		}

		ownedEnd := len(buf)
		if !eof {
			ownedEnd = lead + step
		}
		text := string(buf)
		leadBytes := runesLen(buf[:lead])
		ownedBytes := leadBytes + runesLen(buf[lead:ownedEnd])
		c := Chunk{
			Index:  index,
			Offset: offset,
			Text:   text,
			Lead:   leadBytes,
			Owned:  ownedBytes,
			Bytes:  int64(ownedBytes - leadBytes),
		}
		if !yield(c, nil) || eof {
			return
		}

		nextLead := min(opts.Overlap, ownedEnd)
		cut := ownedEnd - nextLead
		offset += int64(runesLen(buf[:cut]))
		buf = append(buf[:0], buf[cut:]...)
		lead = nextLead
		index++
	}
}

// runesLen is len(string(rs)) without the allocation.
func runesLen(rs []rune) int {
	n := 0
	for _, r := range rs {
		if l := utf8.RuneLen(r); l > 0 {
			n += l
		} else {
			n += utf8.RuneLen(utf8.RuneError)
		}
	}
	return n
}
