package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/nailguard/internal/api"
	"github.com/hyperengineering/nailguard/internal/config"
	"github.com/hyperengineering/nailguard/internal/merge"
	"github.com/hyperengineering/nailguard/internal/metrics"
	"github.com/hyperengineering/nailguard/internal/snapshot"
	"github.com/hyperengineering/nailguard/internal/store"
	"github.com/hyperengineering/nailguard/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "nailguard",
	Short:         "NailGuard - bite event sync",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env file is fine; real deployments use the environment.
		_ = godotenv.Load()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authoritative sync server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(companionCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "driver", cfg.Database.Driver, "path", cfg.Database.Path)

	// 5. Merge endpoint and metrics
	metrics.Register()
	endpoint := merge.New(db, merge.WithLocation(loc))
	slog.Info("merge endpoint initialized", "timezone", loc.String())

	// 6. Initialize HTTP router
	handler := api.NewHandler(endpoint, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Background workers
	var wg sync.WaitGroup
	if err := startBackup(ctx, &wg, cfg, db); err != nil {
		db.Close()
		return err
	}

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Wait for workers to complete
	wg.Wait()

	// 11c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// startBackup launches the backup worker when the store can snapshot itself.
func startBackup(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, db store.Store) error {
	snap, ok := db.(store.Snapshotter)
	if !ok {
		slog.Info("backups disabled", "reason", "store does not support snapshots")
		return nil
	}
	if cfg.Worker.BackupInterval <= 0 {
		slog.Info("backups disabled", "reason", "no backup interval")
		return nil
	}

	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		return fmt.Errorf("configure backup uploader: %w", err)
	}

	w := worker.NewBackupWorker(snap, uploader, "nailguard", time.Duration(cfg.Worker.BackupInterval))
	startWorker(ctx, wg, "backup", w.Run)
	return nil
}

// newLogger builds the process logger from the log settings.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
