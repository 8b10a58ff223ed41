package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/piiscan/internal/config"
	"github.com/eargollo/piiscan/internal/detect"
	"github.com/eargollo/piiscan/internal/extract"
	"github.com/eargollo/piiscan/internal/extract/extracttest"
	"github.com/eargollo/piiscan/internal/store"
	"github.com/eargollo/piiscan/internal/strategy"
)

// recognizerFunc adapts a function to detect.Recognizer.
type recognizerFunc func(ctx context.Context, text string) ([]detect.Span, error)

func (f recognizerFunc) Recognize(ctx context.Context, text string) ([]detect.Span, error) {
	return f(ctx, text)
}

func withDetector(env *testEnv, recognizers ...detect.Recognizer) *Orchestrator {
	deps := env.orch.deps
	deps.Detector = detect.New(env.cfg.Detector, recognizers...)
	return NewOrchestrator(env.cfg, deps)
}

func TestScan_SSNAndPhone(t *testing.T) {
	env := newTestEnv(t)
	path := writeFile(t, t.TempDir(), "people.txt", "Name: Jane Roe\nSSN: 123-45-6789\nPhone: (212) 555-0136\n")

	res, err := env.orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, strategy.Standard, res.Profile.Strategy)
	assert.Equal(t, 2, res.Summary.Total)
	assert.Equal(t, 2, res.Summary.Controlled)
	assert.Equal(t, 0, res.Summary.NonControlled)
	assert.Equal(t, 1, res.Summary.TypeCounts[detect.TypeID])
	assert.Equal(t, 1, res.Summary.TypeCounts[detect.TypePhoneNumber])
	assert.Len(t, res.Hash16, 16)

	files, total, err := env.store.ListFiles(context.Background(), store.FileFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, path, files[0].Path)
	assert.Equal(t, 2, files[0].Controlled)

	pending, err := env.checkpoints.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending, "checkpoint cleared on completion")
}

func TestScan_IdempotentSecondRunSkips(t *testing.T) {
	env := newTestEnv(t)
	path := writeFile(t, t.TempDir(), "people.txt", "SSN: 123-45-6789\n")

	first, err := env.orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, first.Status)

	second, err := env.orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedDuplicate, second.Status)
	assert.Zero(t, second.Summary.Total)

	_, total, err := env.store.ListFiles(context.Background(), store.FileFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "no second result row")

	n, err := env.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScan_EntityAtChunkBoundaryCountedOnce(t *testing.T) {
	env := newTestEnv(t)
	const chunk, overlap = 1000, 100
	step := chunk - overlap

	// The entity starts before the first cut and ends after it.
	entity := "234-56-7890"
	prefix := strings.Repeat("a", step-8) + " SSN "
	body := prefix + entity + " "
	body += strings.Repeat("b", 2*chunk-len(body))
	require.Less(t, len(prefix), step)
	require.Greater(t, len(prefix)+len(entity), step)

	path := writeFile(t, t.TempDir(), "boundary.txt", body)
	res, err := env.orch.Scan(context.Background(), path, chunk, overlap)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, res.Status)
	assert.Greater(t, res.Chunks, 1)
	assert.Equal(t, 1, res.Summary.TypeCounts[detect.TypeID])
	assert.Equal(t, 1, res.Summary.Total)
}

func TestScan_ConfiguredChunkSize(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.ChunkSize = 1000 })
	path := writeFile(t, t.TempDir(), "long.txt", strings.Repeat("lorem ipsum ", 300))

	res, err := env.orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 1000, res.Profile.ChunkSize)
	assert.GreaterOrEqual(t, res.Chunks, 4)

	other := writeFile(t, t.TempDir(), "other.txt", strings.Repeat("dolor sit ", 300))
	res, err = env.orch.Scan(context.Background(), other, 1500, 0)
	require.NoError(t, err)
	assert.Equal(t, 1500, res.Profile.ChunkSize, "explicit size wins over config")
}

func TestScan_DetailsRebasedToFileOffsets(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.StoreDetails = true })
	var b strings.Builder
	for i := range 60 {
		fmt.Fprintf(&b, "row %04d SSN 234-56-%04d and some padding text here\n", i, 1000+i)
	}
	body := b.String()
	path := writeFile(t, t.TempDir(), "rows.txt", body)

	res, err := env.orch.Scan(context.Background(), path, 1000, 100)
	require.NoError(t, err)
	require.Equal(t, 60, res.Summary.Total)

	hits, err := env.store.Details(context.Background(), res.Hash16)
	require.NoError(t, err)
	require.Len(t, hits, 60)
	for _, h := range hits {
		assert.Equal(t, h.Value, body[h.Start:h.End])
	}
}

func TestScan_ResumeMatchesUninterrupted(t *testing.T) {
	var b strings.Builder
	for i := range 400 {
		fmt.Fprintf(&b, "row %04d SSN 234-56-%04d and some padding text here\n", i, 1000+i)
	}
	body := b.String()
	const chunk, overlap = 1000, 100

	// Uninterrupted reference run.
	ref := newTestEnv(t)
	refPath := writeFile(t, t.TempDir(), "rows.txt", body)
	want, err := ref.orch.Scan(context.Background(), refPath, chunk, overlap)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, want.Status)
	require.Equal(t, 400, want.Summary.TypeCounts[detect.TypeID])

	// Interrupted run: cancel after the third chunk reaches the detector.
	env := newTestEnv(t)
	path := writeFile(t, t.TempDir(), "rows.txt", body)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	orch := withDetector(env, recognizerFunc(func(context.Context, string) ([]detect.Span, error) {
		if calls.Add(1) == 3 {
			cancel()
		}
		return nil, nil
	}))

	got, err := orch.Scan(ctx, path, chunk, overlap)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusInterrupted, got.Status)
	require.Less(t, got.Summary.Total, 400)

	pending, err := env.checkpoints.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, path, pending[0].FilePath)
	done := pending[0].Progress.ChunksDone()
	assert.Positive(t, done)

	n, err := env.index.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "interrupted file is not marked processed")

	// Resume.
	before := calls.Load()
	resumed, err := orch.Scan(context.Background(), path, chunk, overlap)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, resumed.Status)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, want.Summary, resumed.Summary)
	assert.Equal(t, int32(want.Chunks-done), calls.Load()-before, "completed chunks are not dispatched again")

	pending, err = env.checkpoints.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// appendLine appends line to path and moves its mtime forward so the change
// is visible even on coarse-grained filesystems.
func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
}

func TestScan_FileGrowingDuringScanIsRescanned(t *testing.T) {
	env := newTestEnv(t)
	path := writeFile(t, t.TempDir(), "app.log", "SSN: 234-56-7890\n")

	var once sync.Once
	growing := withDetector(env, recognizerFunc(func(context.Context, string) ([]detect.Span, error) {
		once.Do(func() { appendLine(t, path, "SSN: 345-67-8901\n") })
		return nil, nil
	}))

	first, err := growing.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, first.Status)

	n, err := env.index.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "a file that changed while read is not recorded as processed")

	second, err := env.orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, second.Status)
	assert.Equal(t, 2, second.Summary.TypeCounts[detect.TypeID])
	assert.NotEqual(t, first.Hash16, second.Hash16)

	third, err := env.orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedDuplicate, third.Status)
}

func TestScan_CheckpointOfChangedFileIsNotResumed(t *testing.T) {
	env := newTestEnv(t)
	var b strings.Builder
	for i := range 100 {
		fmt.Fprintf(&b, "row %04d SSN 234-56-%04d and some padding text here\n", i, 1000+i)
	}
	path := writeFile(t, t.TempDir(), "rows.txt", b.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	orch := withDetector(env, recognizerFunc(func(context.Context, string) ([]detect.Span, error) {
		if calls.Add(1) == 2 {
			appendLine(t, path, "row 0100 SSN 234-56-1100 and some padding text here\n")
			cancel()
		}
		return nil, nil
	}))

	got, err := orch.Scan(ctx, path, 1000, 100)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusInterrupted, got.Status)

	again, err := env.orch.Scan(context.Background(), path, 1000, 100)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, again.Status)
	assert.False(t, again.Resumed, "progress of the old content is discarded")
	assert.Equal(t, 101, again.Summary.TypeCounts[detect.TypeID])

	pending, err := env.checkpoints.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestScan_IncompatibleCheckpointRestarts(t *testing.T) {
	env := newTestEnv(t)
	var b strings.Builder
	for i := range 100 {
		fmt.Fprintf(&b, "row %04d SSN 234-56-%04d and some padding text here\n", i, 1000+i)
	}
	path := writeFile(t, t.TempDir(), "rows.txt", b.String())

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	orch := withDetector(env, recognizerFunc(func(context.Context, string) ([]detect.Span, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		return nil, nil
	}))
	_, err := orch.Scan(ctx, path, 1000, 100)
	require.ErrorIs(t, err, context.Canceled)

	res, err := orch.Scan(context.Background(), path, 1500, 100)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, 100, res.Summary.Total)
}

func TestScan_DetectorFailureCountsChunk(t *testing.T) {
	env := newTestEnv(t)
	orch := withDetector(env, recognizerFunc(func(context.Context, string) ([]detect.Span, error) {
		return nil, errors.New("model unavailable")
	}))
	path := writeFile(t, t.TempDir(), "a.txt", "SSN: 123-45-6789\n")

	res, err := orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 1, res.ChunksFailed)
	assert.Zero(t, res.Summary.Total)
}

func TestScan_DetectorPanicRecovered(t *testing.T) {
	env := newTestEnv(t)
	orch := withDetector(env, recognizerFunc(func(context.Context, string) ([]detect.Span, error) {
		panic("boom")
	}))
	path := writeFile(t, t.TempDir(), "a.txt", "hello\n")

	res, err := orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 1, res.ChunksFailed)
}

func TestScan_SkippedErrors(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	res, err := env.orch.Scan(context.Background(), writeFile(t, dir, "image.png", "x"), 0, 0)
	assert.ErrorIs(t, err, extract.ErrUnsupported)
	assert.Equal(t, StatusSkippedError, res.Status)
	assert.Equal(t, "unsupported file type", res.Reason)

	res, err = env.orch.Scan(context.Background(), dir+"/missing.txt", 0, 0)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, StatusSkippedError, res.Status)
	assert.Equal(t, "file not found", res.Reason)
}

func TestScan_CSV(t *testing.T) {
	env := newTestEnv(t)
	path := writeFile(t, t.TempDir(), "people.csv", "name,ssn,email\nJane,123-45-6789,jane.roe@acme-corp.com\n")

	res, err := env.orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 1, res.Summary.TypeCounts[detect.TypeID])
	assert.Equal(t, 1, res.Summary.TypeCounts[detect.TypeEmailAddress])
}

func TestScan_PDF(t *testing.T) {
	env := newTestEnv(t)
	path := extracttest.WritePDF(t, t.TempDir(), "people.pdf",
		"Name: Jane Roe\nSSN: 123-45-6789",
		"Phone: (212) 555-0136\nEmail: jane.roe@acme-corp.com",
	)

	res, err := env.orch.Scan(context.Background(), path, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 2, res.Chunks, "one chunk per page")
	assert.Equal(t, 1, res.Summary.TypeCounts[detect.TypeID])
	assert.Equal(t, 1, res.Summary.TypeCounts[detect.TypePhoneNumber])
	assert.Equal(t, 1, res.Summary.TypeCounts[detect.TypeEmailAddress])
}

func TestScan_EncryptedPDFSkipped(t *testing.T) {
	env := newTestEnv(t)
	plain := extracttest.WritePDF(t, t.TempDir(), "payroll.pdf", "SSN: 123-45-6789")
	locked := extracttest.Encrypt(t, plain, "hunter2")

	res, err := env.orch.Scan(context.Background(), locked, 0, 0)
	assert.ErrorIs(t, err, extract.ErrEncrypted)
	assert.Equal(t, StatusSkippedError, res.Status)
	assert.Equal(t, "encrypted document", res.Reason)
	assert.Zero(t, res.Summary.Total)

	_, total, err := env.store.ListFiles(context.Background(), store.FileFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestScan_InFlightBounded(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Workers.MaxWorkers = 2 })
	require.Equal(t, 2, env.orch.Workers())

	var active, peakActive atomic.Int32
	entered := make(chan struct{}, 256)
	release := make(chan struct{})
	orch := withDetector(env, recognizerFunc(func(context.Context, string) ([]detect.Span, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peakActive.Load()
			if n <= p || peakActive.CompareAndSwap(p, n) {
				break
			}
		}
		entered <- struct{}{}
		<-release
		return nil, nil
	}))
	path := writeFile(t, t.TempDir(), "long.txt", strings.Repeat("filler text ", 250))

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := orch.Scan(context.Background(), path, 100, 10)
		done <- outcome{res, err}
	}()

	for range 2 {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("workers never started")
		}
	}
	select {
	case <-entered:
		t.Fatal("a third chunk reached detection while both workers were busy")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("scan did not finish")
	}
	require.NoError(t, out.err)
	res := out.res
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Greater(t, res.Chunks, 20)
	assert.LessOrEqual(t, int(peakActive.Load()), 2)
	capacity := 2 * res.Profile.Strategy.InFlightFactor()
	assert.GreaterOrEqual(t, res.PeakInFlight, 2)
	assert.LessOrEqual(t, res.PeakInFlight, capacity)
}

func TestWorkersBounded(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Workers.MaxWorkers = 2 })
	assert.Equal(t, 2, env.orch.Workers())

	env = newTestEnv(t, func(c *config.Config) { c.Workers.MaxWorkers = 64 })
	assert.Equal(t, 4, env.orch.Workers(), "limited by CPUs")
}
