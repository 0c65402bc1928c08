package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comic-offline/internal/database"
	"comic-offline/internal/downloader"
	"comic-offline/internal/web"
	"comic-offline/pkg/models"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download queue and the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve()
		},
	}
}

func (a *app) serve() error {
	slog.Info("Starting Comic Offline", "version", version, "storage_root", a.cfg.StorageRoot)

	// Initialize database
	db, err := database.New(a.cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	// Remove leftovers of interrupted deletes before any task runs
	if _, err := a.library.Prune(); err != nil {
		slog.Warn("Failed to prune library", "error", err)
	}

	// Initialize download worker
	downloadWorker := downloader.NewWorker(db, a.fetcher, a.store, a.cfg.MaxConcurrentDownloads, a.cfg.QueueSize)

	// Initialize web server with download worker
	server := web.NewServer(db, a.library, a.cfg, downloadWorker)

	return runServer(server, downloadWorker, db, a.cfg.JobRetention)
}

func runServer(server *web.Server, downloadWorker *downloader.Worker, db *database.DB, retention time.Duration) error {
	// Create main context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reset orphaned jobs from previous session
	if err := resetOrphanedJobs(db); err != nil {
		slog.Error("Failed to reset orphaned jobs", "error", err)
	}

	// Queue any pending jobs from previous session
	if err := queuePendingJobs(db, downloadWorker); err != nil {
		slog.Error("Failed to queue pending jobs", "error", err)
	}

	// Start download worker in goroutine
	workerDone := make(chan struct{})
	go func() {
		downloadWorker.Start(ctx)
		close(workerDone)
	}()

	// Start history cleanup routine (runs daily)
	go startHistoryCleanup(ctx, db, retention)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-serverErr:
		cancel()
		<-workerDone
		return fmt.Errorf("server failed to start: %w", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shutdown server gracefully", "error", err)
	}

	// Cancel context to stop download worker; interrupted jobs go back to pending
	cancel()
	<-workerDone

	slog.Info("Server shutdown complete")
	return nil
}

// startHistoryCleanup runs a goroutine that removes old finished jobs periodically
func startHistoryCleanup(ctx context.Context, db *database.DB, retention time.Duration) {
	ticker := time.NewTicker(24 * time.Hour) // Run daily
	defer ticker.Stop()

	// Run cleanup immediately on startup
	cleanupOldJobs(db, retention)

	for {
		select {
		case <-ctx.Done():
			slog.Info("History cleanup routine shutting down")
			return
		case <-ticker.C:
			cleanupOldJobs(db, retention)
		}
	}
}

// cleanupOldJobs removes finished jobs older than retention
func cleanupOldJobs(db *database.DB, retention time.Duration) {
	slog.Info("Running history cleanup", "retention", retention)

	if err := db.DeleteOldJobs(retention); err != nil {
		slog.Error("Failed to cleanup old jobs", "error", err)
		return
	}

	slog.Info("History cleanup completed")
}

// resetOrphanedJobs moves jobs stuck in downloading state by a crash back to
// pending. Their episode records already hold the committed pages.
func resetOrphanedJobs(db *database.DB) error {
	count, err := db.ResetOrphanedJobs()
	if err != nil {
		return err
	}

	if count > 0 {
		slog.Info("Reset orphaned jobs from previous session", "count", count)
	}

	return nil
}

// queuePendingJobs looks for pending jobs from previous session and queues them
func queuePendingJobs(db *database.DB, worker *downloader.Worker) error {
	// Get pending jobs ordered by creation time (oldest first)
	pendingJobs, err := db.GetJobsByStatus(models.JobPending)
	if err != nil {
		return fmt.Errorf("failed to get pending jobs: %w", err)
	}

	queued := 0
	for _, job := range pendingJobs {
		if err := worker.QueueJob(job); err != nil {
			slog.Warn("Failed to queue pending job", "job_id", job.ID, "error", err)
			continue
		}
		queued++
		slog.Info("Queued pending job from previous session",
			"job_id", job.ID,
			"collection_id", job.Collection.CollectionID,
			"episode_id", job.Episode.EpisodeID,
			"created_at", job.CreatedAt)
	}

	if queued > 0 {
		slog.Info("Queued pending jobs from previous session", "count", queued)
	}

	return nil
}
