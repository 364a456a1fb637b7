package application

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jobrunner/geopub/internal/ports/output"
)

// SyncStats contains statistics from a mirror sync operation.
type SyncStats struct {
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Total      int `json:"total"`
}

// Syncer mirrors order payloads from remote object storage into the local
// download directory, where the detector and processor pick them up.
type Syncer struct {
	storage     output.ObjectStorage
	metrics     output.MetricsCollector
	logger      *slog.Logger
	downloadDir string

	// Prevents concurrent sync operations
	syncMu sync.Mutex
}

// NewSyncer creates a syncer targeting the download directory.
func NewSyncer(storage output.ObjectStorage, metrics output.MetricsCollector, logger *slog.Logger, downloadDir string) *Syncer {
	return &Syncer{
		storage:     storage,
		metrics:     metrics,
		logger:      logger,
		downloadDir: downloadDir,
	}
}

// Sync downloads every remote order file that is missing locally or whose
// size differs. Object keys keep their order-directory structure on disk.
func (s *Syncer) Sync(ctx context.Context) (SyncStats, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.logger.Info("syncing orders from storage")

	objects, err := s.storage.List(ctx)
	if err != nil {
		s.metrics.IncStorageOperations("list", false)
		return SyncStats{}, err
	}
	s.metrics.IncStorageOperations("list", true)

	stats := SyncStats{Total: len(objects)}
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		local := filepath.Join(s.downloadDir, obj.Key)
		if fi, err := os.Stat(local); err == nil && fi.Size() == obj.Size {
			stats.Skipped++
			continue
		}

		if err := s.storage.Download(ctx, obj.Key, local); err != nil {
			s.metrics.IncStorageOperations("download", false)
			s.logger.Error("failed to download order file", "key", obj.Key, "error", err)
			continue
		}
		s.metrics.IncStorageOperations("download", true)
		stats.Downloaded++
		s.logger.Debug("downloaded order file", "key", obj.Key, "size", obj.Size)
	}

	s.logger.Info("sync completed",
		"downloaded", stats.Downloaded,
		"skipped", stats.Skipped,
		"total", stats.Total,
	)
	return stats, nil
}

// Run syncs on a fixed interval until the context is canceled. Used by
// watch mode alongside the filesystem watcher.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	s.logger.Info("starting sync scheduler", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Error("scheduled sync failed", "error", err)
			}
		}
	}
}
