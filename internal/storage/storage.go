package storage

import "context"

// DownloadRecord represents a persisted snapshot of a finished download.
type DownloadRecord struct {
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	FilePath  string `json:"filePath"`
	URL       string `json:"url"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime,omitempty"`
	Size      int64  `json:"size"`
	Status    string `json:"status"`
}

// HistoryReadRepository lists history records, newest first.
type HistoryReadRepository interface {
	List(ctx context.Context) ([]DownloadRecord, error)
}

type HistoryWriteRepository interface {
	Prepend(ctx context.Context, rec DownloadRecord) error
	RemoveByID(ctx context.Context, id string) ([]DownloadRecord, error) // returns the remaining records
	Clear(ctx context.Context) ([]DownloadRecord, error)                 // always returns an empty list
}

type HistoryRepository interface {
	HistoryReadRepository
	HistoryWriteRepository
}
