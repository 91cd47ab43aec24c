package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/restic-pan123-backend/internal/config"
	"github.com/tonimelisma/restic-pan123-backend/internal/namespace"
	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
	"github.com/tonimelisma/restic-pan123-backend/internal/pan123index"
	"github.com/tonimelisma/restic-pan123-backend/internal/pan123migrate"
)

func newMigrateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Convert a legacy flat data/ layout into 256 hex-prefix shards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			return runMigrate(cmd.Context(), cc.Cfg, cc.Logger, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log intended shard creations and moves without performing them")

	return cmd
}

func runMigrate(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) error {
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

	migrator := pan123migrate.New(engine, logger)

	// Only print a live per-shard progress line when stdout is an
	// interactive terminal; a piped/redirected invocation gets just the
	// final summary, matching how the CLI's other progress-bearing
	// commands behave under redirection.
	if isatty.IsTerminal(os.Stdout.Fd()) {
		migrator.Progress = func(shard string, moved, failed int) {
			fmt.Fprintf(os.Stdout, "shard %s: moved %s files, %d failed\n",
				shard, humanize.Comma(int64(moved)), failed)
		}
	}

	report, err := migrator.Run(ctx, pan123migrate.Options{RepoPath: cfg.RepoPath, DryRun: dryRun})

	logger.Info("migration complete",
		slog.Int("shards_created", report.ShardsCreated),
		slog.String("files_moved", humanize.Comma(int64(report.FilesMoved))),
		slog.Int("files_failed", report.FilesFailed),
		slog.Bool("dry_run", dryRun),
	)

	if err != nil {
		return fmt.Errorf("migration encountered errors: %w", err)
	}

	return nil
}
