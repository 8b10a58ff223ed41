package scan

import (
	"context"
	"testing"
	"time"
)

// BenchmarkRunCold measures end-to-end scan throughput with an empty dedup
// index. Each iteration uses a fresh state database.
// Run with: go test -bench=BenchmarkRunCold -benchtime=3x ./internal/scan/
func BenchmarkRunCold(b *testing.B) {
	root := b.TempDir()
	numFiles := createSyntheticTree(b, root, 300)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		env := newTestEnv(b)
		r := NewRunner(env.cfg, env.orch)
		b.StartTimer()

		start := time.Now()
		sum, err := r.Run(context.Background(), []string{root}, RunOptions{})
		if err != nil {
			b.Fatalf("scan failed: %v", err)
		}
		elapsed := time.Since(start)

		b.ReportMetric(float64(numFiles)/elapsed.Seconds(), "files/s")
		b.ReportMetric(float64(sum.Entities.Total), "entities/op")
	}
}

// BenchmarkRunWarm measures a rescan where every file is already in the dedup
// index. The walk still happens; only the lookups are paid.
func BenchmarkRunWarm(b *testing.B) {
	root := b.TempDir()
	numFiles := createSyntheticTree(b, root, 300)
	env := newTestEnv(b)
	r := NewRunner(env.cfg, env.orch)
	if _, err := r.Run(context.Background(), []string{root}, RunOptions{}); err != nil {
		b.Fatalf("warm-up scan failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := time.Now()
		sum, err := r.Run(context.Background(), []string{root}, RunOptions{})
		if err != nil {
			b.Fatalf("scan failed: %v", err)
		}
		elapsed := time.Since(start)

		b.ReportMetric(float64(numFiles)/elapsed.Seconds(), "files/s")
		b.ReportMetric(float64(sum.SkippedDuplicate), "skipped/op")
	}
}
