package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/nailguard/internal/metrics"
	"github.com/hyperengineering/nailguard/internal/snapshot"
	"github.com/hyperengineering/nailguard/internal/store"
)

// BackupWorker periodically snapshots the authoritative store and uploads
// the snapshot to object storage.
type BackupWorker struct {
	store    store.Snapshotter
	uploader snapshot.Uploader
	name     string
	interval time.Duration
}

// NewBackupWorker creates a worker for the given store. name is the object
// storage namespace for the uploads. The uploader is optional; if nil, only
// the local snapshot is written.
func NewBackupWorker(s store.Snapshotter, uploader snapshot.Uploader, name string, interval time.Duration) *BackupWorker {
	return &BackupWorker{
		store:    s,
		uploader: uploader,
		name:     name,
		interval: interval,
	}
}

// Run starts the worker loop. Backs up immediately on start, then on each
// interval. Respects context cancellation for graceful shutdown.
func (w *BackupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
		"action", "worker_started",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.backup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.backup(ctx)
		}
	}
}

// backup writes one snapshot and uploads it. Returns true on success.
func (w *BackupWorker) backup(ctx context.Context) bool {
	path, err := w.store.GenerateSnapshot(ctx)
	if err != nil {
		// Graceful shutdown, don't log as error
		if ctx.Err() != nil {
			return false
		}
		metrics.BackupsTotal.WithLabelValues(metrics.ResultError).Inc()
		slog.Warn("backup snapshot failed",
			"component", "worker",
			"worker", "backup",
			"action", "snapshot_failed",
			"error", err,
		)
		return false
	}

	// Upload failures are not fatal; the local snapshot remains valid.
	if w.uploader != nil {
		if err := w.uploader.Upload(ctx, w.name, path); err != nil {
			if ctx.Err() != nil {
				return false
			}
			metrics.BackupsTotal.WithLabelValues(metrics.ResultError).Inc()
			slog.Warn("backup upload failed",
				"component", "worker",
				"worker", "backup",
				"action", "upload_failed",
				"path", path,
				"error", err,
			)
			return false
		}
	}

	metrics.BackupsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	slog.Info("backup complete",
		"component", "worker",
		"worker", "backup",
		"action", "backup_complete",
		"path", path,
	)
	return true
}
