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

	"github.com/ashureev/agentdesk/internal/api"
	"github.com/ashureev/agentdesk/internal/backend"
	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/console"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect upstream and serve the local console API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

// resolveAgentID validates the configured agent id or mints one for dev runs.
func resolveAgentID(cfg *config.Config) (string, error) {
	if cfg.AgentID != "" {
		return identity.ValidateAgentID(cfg.AgentID)
	}
	if !cfg.IsDevelopment() {
		return "", fmt.Errorf("AGENT_ID is required outside development: %w", identity.ErrInvalidAgentID)
	}
	id, err := identity.GenerateAgentID()
	if err != nil {
		return "", err
	}
	slog.Warn("AGENT_ID not set, generated a development identity", "agent_id", id)
	return id, nil
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)

	agentID, err := resolveAgentID(cfg)
	if err != nil {
		return err
	}
	slog.Info("Starting agentdesk", "port", cfg.Port, "agent_id", agentID, "dev", cfg.IsDevelopment())

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo *store.SQLiteStore
	var pinger api.Pinger
	opts := console.Options{
		AgentID:        agentID,
		UpstreamURL:    cfg.UpstreamWSURL,
		ReconnectDelay: cfg.ReconnectDelay,
		ClaimTimeout:   cfg.ClaimTimeout,
		ClosedLimit:    cfg.ClosedLimit,
		Backend:        backend.New(cfg.BackendURL, agentID, cfg.HTTPTimeout, logger),
		Logger:         logger,
	}

	if cfg.Archive.Enabled {
		sched, err := store.ParseSchedule(cfg.Archive.PruneSchedule)
		if err != nil {
			return err
		}
		repo, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("database health check: %w", err)
		}
		slog.Info("Database connected", "path", cfg.DBPath)

		opts.Repo = repo
		pinger = repo
		store.StartPruneWorker(ctx, repo, sched, cfg.Archive.TTL)
	} else {
		slog.Info("Archive disabled, closed transcripts are not persisted")
	}

	c, err := console.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize console: %w", err)
	}

	streams := api.NewStreamRegistry()
	r := api.NewRouter(api.RouterConfig{
		AgentID:     agentID,
		FrontendURL: cfg.FrontendURL,
		IsDev:       cfg.IsDevelopment(),
		DB:          pinger,
		Streams:     streams,
	}, c)

	// Event streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	consoleDone := make(chan error, 1)
	go func() {
		consoleDone <- c.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		<-consoleDone
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streams.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := <-consoleDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Console stopped with error", "error", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
