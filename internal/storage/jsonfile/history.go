package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/storage"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// HistoryRepository stores the download history as a JSON array, newest first.
type HistoryRepository struct {
	mu   sync.Mutex
	path string
}

func NewHistoryRepository(path string) *HistoryRepository {
	return &HistoryRepository{path: path}
}

func (r *HistoryRepository) Path() string {
	return r.path
}

// List returns the stored records. A missing or malformed file yields an empty history.
func (r *HistoryRepository) List(ctx context.Context) ([]storage.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(ctx), nil
}

func (r *HistoryRepository) Prepend(ctx context.Context, rec storage.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.load(ctx)
	history = append([]storage.DownloadRecord{rec}, history...)

	return r.save(history)
}

func (r *HistoryRepository) RemoveByID(ctx context.Context, id string) ([]storage.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.load(ctx)
	kept := make([]storage.DownloadRecord, 0, len(history))

	for _, rec := range history {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}

	if err := r.save(kept); err != nil {
		return nil, err
	}

	return kept, nil
}

func (r *HistoryRepository) Clear(ctx context.Context) ([]storage.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	empty := []storage.DownloadRecord{}
	if err := r.save(empty); err != nil {
		return nil, err
	}

	return empty, nil
}

func (r *HistoryRepository) load(ctx context.Context) []storage.DownloadRecord {
	logger := logctx.LoggerFromContext(ctx)

	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to read download history", "path", r.path, "err", err)
		}

		return []storage.DownloadRecord{}
	}

	var history []storage.DownloadRecord
	if err := json.Unmarshal(data, &history); err != nil {
		logger.Error("failed to decode download history", "path", r.path, "err", err)

		return []storage.DownloadRecord{}
	}

	if history == nil {
		history = []storage.DownloadRecord{}
	}

	return history
}

// save writes through a temporary file so a crash never leaves a truncated history behind.
func (r *HistoryRepository) save(history []storage.DownloadRecord) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return &storage.PersistenceError{Operation: "encode", Path: r.path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(r.path), dirPerm); err != nil {
		return &storage.PersistenceError{Operation: "write", Path: r.path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return &storage.PersistenceError{Operation: "write", Path: r.path, Err: err}
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return &storage.PersistenceError{Operation: "write", Path: r.path, Err: err}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return &storage.PersistenceError{Operation: "write", Path: r.path, Err: err}
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)

		return &storage.PersistenceError{Operation: "write", Path: r.path, Err: fmt.Errorf("failed to set permissions: %w", err)}
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)

		return &storage.PersistenceError{Operation: "write", Path: r.path, Err: err}
	}

	return nil
}
