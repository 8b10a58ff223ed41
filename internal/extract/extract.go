// Package extract turns supported files into a lazy sequence of text chunks.
package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/eargollo/piiscan/internal/strategy"
)

var (
	// ErrUnsupported is returned for files whose extension has no extractor.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrEncrypted is returned for PDFs that cannot be opened without a password.
	ErrEncrypted = errors.New("encrypted document")
)

type kind int

const (
	kindText kind = iota
	kindCSV
	kindPDF
)

var kinds = map[string]kind{
	".txt": kindText, ".log": kindText, ".md": kindText, ".html": kindText,
	".htm": kindText, ".json": kindText, ".xml": kindText,
	".csv": kindCSV, ".tsv": kindCSV,
	".pdf": kindPDF,
}

// Supported reports whether path has an extension with an extractor.
func Supported(path string) bool {
	_, ok := kinds[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Chunk is one unit of detection work.
//
// Offset is the byte offset of Text within the whole extracted text. Hits
// starting before Lead or at or after Owned (both byte offsets into Text)
// belong to a neighbouring chunk: the lead-in and tail are overlap that lets
// entities straddling a cut be seen whole exactly once.
type Chunk struct {
	Index  int
	Offset int64
	Text   string
	Lead   int
	Owned  int
	Bytes  int64
}

// Options controls chunking.
type Options struct {
	Strategy  strategy.Strategy
	ChunkSize int // in characters
	Overlap   int // in characters, below ChunkSize
}

// Source is an opened, restartable chunk producer for one file.
type Source struct {
	path string
	kind kind
	opts Options
	size int64
	pdf  *model.Context // parsed once at Open
}

// Open validates path and returns a Source. It fails with ErrUnsupported for
// unknown extensions and wraps fs.ErrNotExist for missing files.
func Open(path string, opts Options) (*Source, error) {
	k, ok := kinds[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = min(max(opts.Overlap, 0), opts.ChunkSize/2)
	}
	s := &Source{path: path, kind: k, opts: opts, size: info.Size()}
	if k == kindPDF {
		// Parsing up front fails fast on encrypted or unreadable documents.
		if s.pdf, err = readPDF(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Options returns the effective options after clamping.
func (s *Source) Options() Options { return s.opts }

// Chunks returns the chunk sequence. Each call restarts from the beginning of
// the file. Iteration stops after the first error is yielded.
func (s *Source) Chunks(ctx context.Context) iter.Seq2[Chunk, error] {
	switch s.kind {
	case kindCSV:
		return s.csvChunks(ctx)
	case kindPDF:
		return s.pdfChunks(ctx)
	default:
		if s.opts.Strategy == strategy.MemoryMapped {
			return s.mappedChunks(ctx)
		}
		return s.textChunks(ctx)
	}
}
