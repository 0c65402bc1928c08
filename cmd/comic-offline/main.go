package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"comic-offline/internal/config"
	"comic-offline/internal/fetch"
	"comic-offline/internal/library"
	"comic-offline/internal/storage"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs once configuration is loaded
type app struct {
	cfg     *config.Config
	store   *storage.FSStore
	library *library.Service
	fetcher *fetch.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "comic-offline",
		Short:         "Download comic episodes for offline reading",
		Long:          "Download comic episodes page by page into resumable offline storage and serve them over HTTP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve()
		},
	}

	root.AddCommand(
		newServeCmd(a),
		newDownloadCmd(a),
		newCollectionsCmd(a),
		newEpisodesCmd(a),
		newDeleteCmd(a),
		newPruneCmd(a),
	)

	return root
}

func (a *app) load() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup structured logging
	setupLogging(cfg.LogLevel)

	a.cfg = cfg
	a.store = storage.NewFSStore(cfg.StorageRoot)
	a.library = library.NewService(a.store)
	a.fetcher = fetch.New(cfg.FetchOptions())
	return nil
}

// setupLogging configures structured logging based on the log level
func setupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
