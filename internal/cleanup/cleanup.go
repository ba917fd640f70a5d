package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/Novice000/crypto_export_fetcher/internal/logctx"
	"github.com/Novice000/crypto_export_fetcher/internal/storage"
)

// DeleteExpiredStaging deletes staged artifacts of completed acquisitions
// older than keepDuration. Only files still living under the staging
// directory are touched: shared-storage locators from external placements
// belong to the user and are left alone.
func DeleteExpiredStaging(ctx context.Context, records []storage.AcquisitionRecord, stagingDir string, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	for _, rec := range records {
		stagingPath := filepath.Join(stagingDir, rec.FileName)

		if rec.FinalLocation != "" && rec.FinalLocation != stagingPath {
			continue // placed outside staging; nothing of ours on disk
		}

		info, err := os.Stat(stagingPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat staged file", "file", stagingPath, "err", err)

			return err
		}

		completedAt, err := time.Parse(time.RFC3339, rec.CompletedAt)
		if err != nil {
			// fallback: use file mod time
			logger.Warn("failed to parse completion time, using file mod time", "file", stagingPath, "err", err)

			completedAt = info.ModTime()
		}

		if now.Sub(completedAt) > keepDuration {
			if err := os.Remove(stagingPath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete expired staged file", "file", stagingPath, "err", err)

				return err
			}

			logger.Info("deleted expired staged file", "file", stagingPath)
		}
	}

	return nil
}
