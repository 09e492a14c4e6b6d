package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/italolelis/surface_downloader/internal/storage"
	"github.com/italolelis/surface_downloader/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *sqlite.HistoryRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return sqlite.NewHistoryRepository(db)
}

func TestHistoryRepository_PrependListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	history, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, repo.Prepend(ctx, storage.DownloadRecord{ID: "1", FileName: "a.mp3", Status: "completed", StartTime: "t1"}))
	require.NoError(t, repo.Prepend(ctx, storage.DownloadRecord{ID: "2", FileName: "b.mp3", Status: "completed", StartTime: "t2", EndTime: "t3"}))

	history, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2", history[0].ID)
	assert.Equal(t, "t3", history[0].EndTime)
	assert.Equal(t, "1", history[1].ID)
	assert.Equal(t, "", history[1].EndTime)
}

func TestHistoryRepository_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, repo.Prepend(ctx, storage.DownloadRecord{ID: id, Status: "completed"}))
	}

	remaining, err := repo.RemoveByID(ctx, "2")
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "3", remaining[0].ID)
	assert.Equal(t, "1", remaining[1].ID)

	empty, err := repo.Clear(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	history, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}
