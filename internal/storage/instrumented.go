package storage

import (
	"context"

	"github.com/italolelis/surface_downloader/internal/telemetry"
)

// InstrumentedHistoryRepository wraps a HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(repo HistoryRepository, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		repo:      repo,
		telemetry: tel,
	}
}

// List retrieves the history with telemetry.
func (r *InstrumentedHistoryRepository) List(ctx context.Context) ([]DownloadRecord, error) {
	var result []DownloadRecord

	err := r.telemetry.InstrumentHistoryOperation(ctx, "list", func(ctx context.Context) error {
		var err error

		result, err = r.repo.List(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Prepend stores a record with telemetry.
func (r *InstrumentedHistoryRepository) Prepend(ctx context.Context, rec DownloadRecord) error {
	return r.telemetry.InstrumentHistoryOperation(ctx, "prepend", func(ctx context.Context) error {
		return r.repo.Prepend(ctx, rec)
	})
}

// RemoveByID deletes a record with telemetry.
func (r *InstrumentedHistoryRepository) RemoveByID(ctx context.Context, id string) ([]DownloadRecord, error) {
	var result []DownloadRecord

	err := r.telemetry.InstrumentHistoryOperation(ctx, "remove", func(ctx context.Context) error {
		var err error

		result, err = r.repo.RemoveByID(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Clear empties the history with telemetry.
func (r *InstrumentedHistoryRepository) Clear(ctx context.Context) ([]DownloadRecord, error) {
	var result []DownloadRecord

	err := r.telemetry.InstrumentHistoryOperation(ctx, "clear", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Clear(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
