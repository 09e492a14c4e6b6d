package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/surface_downloader/internal/storage"
)

// HistoryWriteRepository implements storage.HistoryWriteRepository
// and stores download records in SQLite.
type HistoryWriteRepository struct {
	db *sql.DB
}

func NewHistoryWriteRepository(db *sql.DB) *HistoryWriteRepository {
	return &HistoryWriteRepository{db: db}
}

// Prepend inserts rec as the newest record. Re-inserting an id moves it to the front.
func (r *HistoryWriteRepository) Prepend(ctx context.Context, rec storage.DownloadRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.PersistenceError{Operation: "write", Path: "downloads", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, rec.ID); err != nil {
		return &storage.PersistenceError{Operation: "write", Path: "downloads", Err: err}
	}

	var endTime sql.NullString
	if rec.EndTime != "" {
		endTime = sql.NullString{String: rec.EndTime, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO downloads (id, file_name, file_path, url, start_time, end_time, size, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.FileName, rec.FilePath, rec.URL, rec.StartTime, endTime, rec.Size, rec.Status,
	)
	if err != nil {
		return &storage.PersistenceError{Operation: "write", Path: "downloads", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &storage.PersistenceError{Operation: "write", Path: "downloads", Err: err}
	}

	return nil
}

func (r *HistoryWriteRepository) delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id); err != nil {
		return &storage.PersistenceError{Operation: "delete", Path: "downloads", Err: err}
	}

	return nil
}

func (r *HistoryWriteRepository) clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM downloads`); err != nil {
		return &storage.PersistenceError{Operation: "clear", Path: "downloads", Err: err}
	}

	return nil
}
