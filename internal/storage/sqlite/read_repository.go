package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/surface_downloader/internal/storage"
)

type HistoryReadRepository struct {
	db *sql.DB
}

func NewHistoryReadRepository(dbConn *sql.DB) *HistoryReadRepository {
	return &HistoryReadRepository{db: dbConn}
}

// List returns every record, newest first.
func (r *HistoryReadRepository) List(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id,
			file_name,
			file_path,
			url,
			start_time,
			end_time,
			size,
			status
		FROM downloads
		ORDER BY seq DESC`)
	if err != nil {
		return nil, &storage.PersistenceError{Operation: "read", Path: "downloads", Err: err}
	}
	defer rows.Close()

	history := []storage.DownloadRecord{}

	for rows.Next() {
		var record storage.DownloadRecord

		var endTime sql.NullString

		if err := rows.Scan(
			&record.ID,
			&record.FileName,
			&record.FilePath,
			&record.URL,
			&record.StartTime,
			&endTime,
			&record.Size,
			&record.Status,
		); err != nil {
			return nil, &storage.PersistenceError{Operation: "read", Path: "downloads", Err: err}
		}

		if endTime.Valid {
			record.EndTime = endTime.String
		}

		history = append(history, record)
	}

	if err := rows.Err(); err != nil {
		return nil, &storage.PersistenceError{Operation: "read", Path: "downloads", Err: err}
	}

	return history, nil
}
