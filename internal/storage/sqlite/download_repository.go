package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/storage"
)

// HistoryRepository combines the read and write sides into a storage.HistoryRepository.
type HistoryRepository struct {
	*HistoryReadRepository
	*HistoryWriteRepository
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{
		HistoryReadRepository:  NewHistoryReadRepository(dbConn),
		HistoryWriteRepository: NewHistoryWriteRepository(dbConn),
	}
}

// List degrades to an empty history when the database cannot be read.
func (r *HistoryRepository) List(ctx context.Context) ([]storage.DownloadRecord, error) {
	history, err := r.HistoryReadRepository.List(ctx)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to read download history", "err", err)

		return []storage.DownloadRecord{}, nil
	}

	return history, nil
}

func (r *HistoryRepository) RemoveByID(ctx context.Context, id string) ([]storage.DownloadRecord, error) {
	if err := r.delete(ctx, id); err != nil {
		return nil, err
	}

	return r.List(ctx)
}

func (r *HistoryRepository) Clear(ctx context.Context) ([]storage.DownloadRecord, error) {
	if err := r.clear(ctx); err != nil {
		return nil, err
	}

	return []storage.DownloadRecord{}, nil
}
