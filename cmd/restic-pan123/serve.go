package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/restic-pan123-backend/internal/config"
	"github.com/tonimelisma/restic-pan123-backend/internal/namespace"
	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
	"github.com/tonimelisma/restic-pan123-backend/internal/pan123index"
	"github.com/tonimelisma/restic-pan123-backend/internal/pidlock"
	"github.com/tonimelisma/restic-pan123-backend/internal/resticrepo"
	"github.com/tonimelisma/restic-pan123-backend/internal/resticrest"
)

// shutdownGrace bounds how long the HTTP server waits for in-flight
// requests to finish once a shutdown signal arrives.
const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Restic REST backend server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			return runServe(cmd.Context(), cc.Cfg, cc.Logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pidPath := cfg.DatabasePath + ".pid"

	lock, err := pidlock.Acquire(pidPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	store, err := pan123index.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer store.Close()

	client := pan123.NewClient(
		pan123.DefaultBaseURL,
		cfg.ClientID,
		cfg.ClientSecret,
		store,
		metaHTTPClient(),
		listHTTPClient(),
		logger,
	)

	engine := namespace.New(store, client, logger)

	warmup := pan123index.NewWarmup(store, client, logger)

	rootID, rootExists, err := warmup.Run(ctx, cfg.RepoPath, cfg.ForceCacheRebuild)
	if err != nil {
		return fmt.Errorf("warming up index: %w", err)
	}

	logger.Info("index ready", slog.Int64("root_id", rootID), slog.Bool("repo_exists", rootExists))

	surface := resticrepo.New(engine, cfg.RepoPath, logger)

	router := resticrest.NewRouter(surface, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	shutdownCtx := shutdownContext(ctx, logger)

	serveErrCh := make(chan error, 1)

	go func() {
		logger.Info("listening", slog.String("addr", cfg.ListenAddr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}

		serveErrCh <- nil
	}()

	select {
	case err := <-serveErrCh:
		return err
	case <-shutdownCtx.Done():
	}

	shutdownTimeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownTimeoutCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	return <-serveErrCh
}
