package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CTAG07/nonsense/internal/brain"
	"github.com/CTAG07/nonsense/internal/config"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the live models over the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

// serve runs server cycles until a shutdown is requested. A restart tears
// everything down and starts again from the config file.
func serve(ctx context.Context, opts *rootOptions) error {
	baseLogger, _ := newLogger(opts.stderr, config.LoggingConfig{}, opts.verbose)

	actionChan := make(chan string, 1)
	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(osSignalChan)
		select {
		case <-osSignalChan:
			baseLogger.Info("OS signal received, initiating shutdown.")
			actionChan <- actionShutdown
		case <-ctx.Done():
		}
	}()

	for {
		action, err := runCycle(ctx, opts, actionChan)
		if err != nil {
			return err
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}
	baseLogger.Info("nonsense has shut down.")
	return nil
}

// runCycle hosts the API and the live models, and returns whenever the
// server is shut down or restarted.
func runCycle(parent context.Context, opts *rootOptions, actionChan chan string) (string, error) {
	manager, err := config.NewManager(opts.configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := manager.Get()
	logger, level := newLogger(opts.stderr, cfg.Logging, opts.verbose)
	manager.SetLogger(logger)
	logger.Info("Starting server cycle...", "version", Version)

	storage, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return "", fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		logger.Info("Closing storage.")
		if err := storage.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	brains := make(map[string]*brain.Brain, len(cfg.Model.Names))
	for _, name := range cfg.Model.Names {
		b, err := openBrain(parent, name, storage.models, cfg.Model, logger)
		if err != nil {
			return "", err
		}
		brains[name] = b
	}

	manager.OnChange(func(c config.Config) {
		settings := brain.SettingsFrom(c.Model)
		for _, b := range brains {
			b.SetSettings(settings)
		}
		if !opts.verbose {
			level.Set(parseLevel(c.Logging.Level))
		}
		logger.Info("Configuration reloaded")
	})

	server := NewServer(manager, storage, brains, actionChan, logger)
	apiHttpServer := &http.Server{
		Addr:              cfg.Server.ApiAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	for _, b := range brains {
		g.Go(func() error { return b.Run(gctx) })
	}
	g.Go(func() error { return manager.Watch(gctx) })
	g.Go(func() error {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	action := actionShutdown
	g.Go(func() error {
		// Block here until the API or an OS signal sends an action, or
		// something above fails.
		select {
		case action = <-actionChan:
		case <-gctx.Done():
		}
		logger.Info("Stopping server for " + action + "...")

		shutdownCtx, stop := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
		defer stop()
		err := apiHttpServer.Shutdown(shutdownCtx)
		// Brains save on the way out.
		cancel()
		if err != nil {
			return fmt.Errorf("api server shutdown failed: %w", err)
		}
		logger.Info("HTTP server stopped.")
		return nil
	})

	if err = g.Wait(); err != nil {
		return "", err
	}
	return action, nil
}

func openBrain(ctx context.Context, name string, repo brain.Repository, cfg config.ModelConfig, logger *slog.Logger) (*brain.Brain, error) {
	b, err := brain.Open(ctx, name, repo, brain.Options{
		Order:    cfg.Order,
		SeedText: cfg.SeedText,
		Settings: brain.SettingsFrom(cfg),
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open model %q: %w", name, err)
	}
	return b, nil
}
