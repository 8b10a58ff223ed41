package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "github.com/eargollo/piiscan/internal/db"
	"github.com/eargollo/piiscan/internal/detect"
	"github.com/eargollo/piiscan/internal/store"
)

func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, err := internaldb.OpenState(tb.TempDir())
	if err != nil {
		tb.Fatalf("open state db: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

func TestFileResults_SaveAndList(t *testing.T) {
	ctx := context.Background()
	s := store.New(mustOpenDB(t))
	now := time.Now().Truncate(time.Second)

	for i, path := range []string{"/data/a.txt", "/data/b_1.txt", "/other/c.txt"} {
		_, err := s.SaveFileResult(ctx, store.FileResult{
			Path:       path,
			Hash16:     "0123456789abcdef",
			Size:       10,
			MTime:      now,
			Strategy:   "standard",
			Total:      i,
			Controlled: i,
			TypeCounts: map[detect.EntityType]int{detect.TypeID: i},
			StartedAt:  now,
			FinishedAt: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	all, total, err := s.ListFiles(ctx, store.FileFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "/other/c.txt", all[0].Path, "newest first")
	assert.Equal(t, 2, all[0].TypeCounts[detect.TypeID])
	assert.Equal(t, now, all[0].MTime)

	data, total, err := s.ListFiles(ctx, store.FileFilter{PathPrefix: "/data/", MinTotal: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, data, 1)
	assert.Equal(t, "/data/b_1.txt", data[0].Path)

	page, _, err := s.ListFiles(ctx, store.FileFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "/data/b_1.txt", page[0].Path)
}

func TestDetails_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.New(mustOpenDB(t))
	hits := []detect.EntityHit{
		{Type: detect.TypePhoneNumber, Value: "(212) 555-0136", Start: 40, End: 54, Confidence: 1, Label: detect.Controlled},
		{Type: detect.TypeID, Value: "123-45-6789", Start: 5, End: 16, Confidence: 1, Label: detect.Controlled, ContextLeft: "SSN:"},
	}
	require.NoError(t, s.SaveDetails(ctx, "h1", hits))

	got, err := s.Details(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, hits[1], got[0])

	require.NoError(t, s.DeleteDetails(ctx, "h1"))
	got, err = s.Details(ctx, "h1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRuns_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.New(mustOpenDB(t))

	id, err := s.StartRun(ctx, "op-1", "manual", []string{"/data"}, time.Now())
	require.NoError(t, err)

	r, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, r.Status)
	assert.Nil(t, r.FinishedAt)

	r.Status = store.RunCompleted
	r.FilesProcessed = 3
	r.FilesDuplicate = 1
	require.NoError(t, s.FinishRun(ctx, *r))

	last, err := s.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, store.RunCompleted, last.Status)
	assert.Equal(t, 3, last.FilesProcessed)
	assert.Equal(t, []string{"/data"}, last.Roots)
	assert.NotNil(t, last.FinishedAt)

	_, err = s.GetRun(ctx, 999)
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestMarkStaleRunsFailed(t *testing.T) {
	ctx := context.Background()
	s := store.New(mustOpenDB(t))
	id, err := s.StartRun(ctx, "op-2", "watch", nil, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.MarkStaleRunsFailed(ctx))
	r, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, r.Status)
}
