package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/surface_downloader/internal/grant"
	"github.com/italolelis/surface_downloader/internal/logctx"
)

const partialSuffix = ".part"

// DeleteStalePartials removes leftover .part files in dir older than keepDuration. Files whose
// final path is in active are skipped.
func DeleteStalePartials(ctx context.Context, dir string, keepDuration time.Duration, active map[string]bool, now time.Time) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), partialSuffix) {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		if active[strings.TrimSuffix(filePath, partialSuffix)] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("Failed to stat file", "file", filePath, "err", err)

			return removed, err
		}

		if now.Sub(info.ModTime()) <= keepDuration {
			continue
		}

		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete stale partial file", "file", filePath, "err", err)

			return removed, err
		}

		removed++

		logger.Info("Deleted stale partial file", "file", filePath)
	}

	return removed, nil
}

// SweepGrants drops expired grants from the ledger.
func SweepGrants(ctx context.Context, ledger *grant.Ledger, now time.Time) int {
	removed := ledger.Sweep(now)
	if removed > 0 {
		logctx.LoggerFromContext(ctx).Debug("expired grants removed", "count", removed)
	}

	return removed
}
