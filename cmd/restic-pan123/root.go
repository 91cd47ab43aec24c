package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/restic-pan123-backend/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath   string
	flagClientID     string
	flagClientSecret string
	flagRepoPath     string
	flagListenAddr   string
	flagDatabasePath string
	flagForceRebuild bool
	flagVerbose      bool
	flagDebug        bool
	flagQuiet        bool
)

// cliContextKey is the context key under which the resolved config and
// logger are stashed by PersistentPreRunE.
type cliContextKey struct{}

// CLIContext bundles resolved config and logger, built once per invocation.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — PersistentPreRunE did not run")
	}

	return cc
}

// metaHTTPTimeout bounds every non-listing call (mkdir/upload/move/trash/
// download) so a hung connection cannot wedge the server indefinitely.
const metaHTTPTimeout = 30 * time.Second

// metaHTTPClient returns the client used for non-listing round trips.
func metaHTTPClient() *http.Client {
	return &http.Client{Timeout: metaHTTPTimeout}
}

// listHTTPClient returns the client used for paginated directory listings,
// which have no fixed timeout — enumerating a large shard can legitimately
// take minutes, so listings are bounded by request context cancellation
// instead.
func listHTTPClient() *http.Client {
	return &http.Client{Timeout: 0}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "restic-pan123-backend",
		Short:         "Restic REST backend over a 123pan account",
		Long:          "Serves the Restic REST backend protocol, storing repository data in a 123pan Open Platform account.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagClientID, "client-id", "", "123pan Open Platform client ID")
	cmd.PersistentFlags().StringVar(&flagClientSecret, "client-secret", "", "123pan Open Platform client secret")
	cmd.PersistentFlags().StringVar(&flagRepoPath, "repo-path", "", "upstream path to treat as repository root")
	cmd.PersistentFlags().StringVar(&flagListenAddr, "listen", "", "address to listen on")
	cmd.PersistentFlags().StringVar(&flagDatabasePath, "database", "", "path to the local index database")
	cmd.PersistentFlags().BoolVar(&flagForceRebuild, "force-cache-rebuild", false, "force a full index rebuild on warm-up")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show info-level logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (upstream requests, index activity)")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress all but error logging")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	cli := config.CLIOverrides{
		ConfigPath:        flagConfigPath,
		ClientID:          flagClientID,
		ClientSecret:      flagClientSecret,
		RepoPath:          flagRepoPath,
		ListenAddr:        flagListenAddr,
		DatabasePath:      flagDatabasePath,
		ForceCacheRebuild: flagForceRebuild,
	}

	env := config.ReadEnvOverrides()

	logger.Debug("resolving config", slog.String("config_path", cli.ConfigPath))

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	finalLogger := buildLogger(resolved)
	cc := &CLIContext{Cfg: resolved, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger builds the logger for the given resolved config (nil during
// the pre-config bootstrap phase). Config sets the baseline level; the
// mutually-exclusive CLI flags override it.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
