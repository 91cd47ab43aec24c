// Package pan123migrate implements the Migration Tool (C6): an idempotent,
// one-shot conversion of a legacy flat data/ layout into the 256-shard
// hex-prefix layout the Repository Surface expects.
package pan123migrate

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
	"github.com/tonimelisma/restic-pan123-backend/internal/pan123index"
)

// hexShardLen matches resticrepo's shard prefix length.
const hexShardLen = 2

// HexPrefixes is the 256 two-character hex shard names, 00 through ff.
var HexPrefixes = buildHexPrefixes()

func buildHexPrefixes() []string {
	prefixes := make([]string, 0, 256)
	for i := range 256 {
		prefixes = append(prefixes, fmt.Sprintf("%02x", i))
	}

	return prefixes
}

// engine is the slice of namespace.Engine the migration needs.
type engine interface {
	FindPathID(ctx context.Context, path string) (int64, bool, error)
	EnsurePath(ctx context.Context, path string) (int64, error)
	ListFiles(ctx context.Context, parentID int64) ([]pan123index.Node, error)
	MoveFiles(ctx context.Context, fileIDs []int64, newParentID int64) error
}

// Options configures a migration run.
type Options struct {
	RepoPath string
	DryRun   bool
}

// Report summarizes a completed run.
type Report struct {
	ShardsCreated int
	FilesMoved    int
	FilesFailed   int
}

// Migrator runs C6 over an engine.
type Migrator struct {
	engine engine
	logger *slog.Logger

	// Progress, if set, is called after each shard group finishes moving
	// (or would finish, in a dry run). Callers use this for interactive
	// progress output; left nil it is a no-op. See cmd/restic-pan123's
	// migrate command, which only sets it when stdout is a terminal.
	Progress func(shard string, moved, failed int)
}

// New builds a Migrator.
func New(eng engine, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Migrator{engine: eng, logger: logger}
}

func (m *Migrator) reportProgress(shard string, moved, failed int) {
	if m.Progress != nil {
		m.Progress(shard, moved, failed)
	}
}

// Run migrates a legacy flat data/ layout into per-prefix shards. A dry run
// logs intended actions without issuing any mutating call. Per-group move
// failures are counted and reported but do not abort the run — a re-run
// converges.
func (m *Migrator) Run(ctx context.Context, opts Options) (Report, error) {
	dataPath := opts.RepoPath + "/data"

	dataID, ok, err := m.engine.FindPathID(ctx, dataPath)
	if err != nil {
		return Report{}, fmt.Errorf("resolving %s: %w", dataPath, err)
	}

	if !ok {
		m.logger.Info("data directory absent, nothing to migrate", slog.String("path", dataPath))
		return Report{}, nil
	}

	children, err := m.engine.ListFiles(ctx, dataID)
	if err != nil {
		return Report{}, fmt.Errorf("listing %s: %w", dataPath, err)
	}

	existingShards := make(map[string]bool, len(children))
	directFiles := make([]pan123index.Node, 0, len(children))

	for _, c := range children {
		if c.IsDir {
			existingShards[c.Name] = true
			continue
		}

		directFiles = append(directFiles, c)
	}

	report := Report{}

	shardsCreated, err := m.ensureShards(ctx, dataPath, existingShards, opts.DryRun)
	if err != nil {
		return report, err
	}

	report.ShardsCreated = shardsCreated

	groups := groupByPrefix(directFiles)

	moved, failed, err := m.moveGroups(ctx, dataPath, groups, opts.DryRun)
	report.FilesMoved = moved
	report.FilesFailed = failed

	return report, err
}

// ensureShards creates every hex-prefix subdirectory not already present.
func (m *Migrator) ensureShards(ctx context.Context, dataPath string, existing map[string]bool, dryRun bool) (int, error) {
	created := 0

	for _, prefix := range HexPrefixes {
		if existing[prefix] {
			continue
		}

		if dryRun {
			m.logger.Info("dry run: would create shard", slog.String("shard", prefix))
			created++

			continue
		}

		if _, err := m.engine.EnsurePath(ctx, dataPath+"/"+prefix); err != nil {
			return created, fmt.Errorf("creating shard %s: %w", prefix, err)
		}

		created++
	}

	return created, nil
}

// moveGroups relocates each prefix group's files to its shard, in batches
// of at most pan123.MoveBatchLimit. Failures accumulate via multierr so one
// bad group does not stop the rest from converging.
func (m *Migrator) moveGroups(
	ctx context.Context, dataPath string, groups map[string][]pan123index.Node, dryRun bool,
) (moved, failed int, err error) {
	var errs error

	for prefix, files := range groups {
		if dryRun {
			m.logger.Info("dry run: would move files",
				slog.String("shard", prefix), slog.Int("count", len(files)))
			moved += len(files)
			m.reportProgress(prefix, len(files), 0)

			continue
		}

		shardID, ensureErr := m.engine.EnsurePath(ctx, dataPath+"/"+prefix)
		if ensureErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("ensuring shard %s: %w", prefix, ensureErr))
			failed += len(files)
			m.reportProgress(prefix, 0, len(files))

			continue
		}

		ids := make([]int64, len(files))
		for i, f := range files {
			ids[i] = f.FileID
		}

		var shardMoved, shardFailed int

		for start := 0; start < len(ids); start += pan123.MoveBatchLimit {
			end := min(start+pan123.MoveBatchLimit, len(ids))
			batch := ids[start:end]

			if moveErr := m.engine.MoveFiles(ctx, batch, shardID); moveErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("moving batch to shard %s: %w", prefix, moveErr))
				shardFailed += len(batch)

				continue
			}

			shardMoved += len(batch)
		}

		moved += shardMoved
		failed += shardFailed
		m.reportProgress(prefix, shardMoved, shardFailed)
	}

	return moved, failed, errs
}

// groupByPrefix buckets direct files by their first two filename
// characters.
func groupByPrefix(files []pan123index.Node) map[string][]pan123index.Node {
	groups := make(map[string][]pan123index.Node)

	for _, f := range files {
		if len(f.Name) < hexShardLen {
			continue
		}

		prefix := f.Name[:hexShardLen]
		groups[prefix] = append(groups[prefix], f)
	}

	return groups
}
