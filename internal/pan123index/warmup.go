package pan123index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
)

// upstreamLister is the slice of pan123.Client Warmup needs — defined here,
// the consumer, so tests can fake it without spinning up a real Client.
type upstreamLister interface {
	ListAll(ctx context.Context, parentFileID int64) ([]pan123.FileEntry, error)
}

// Warmup implements C4: a breadth-first crawl of the repository root into
// the index, skipped if the index is already populated and a rebuild
// wasn't forced.
type Warmup struct {
	store    *Store
	upstream upstreamLister
	logger   *slog.Logger
}

// NewWarmup builds a Warmup over store and upstream.
func NewWarmup(store *Store, upstream upstreamLister, logger *slog.Logger) *Warmup {
	if logger == nil {
		logger = slog.Default()
	}

	return &Warmup{store: store, upstream: upstream, logger: logger}
}

// Run reuses an existing nonempty index unless force is set; otherwise it
// truncates, resolves repoPath segment by segment, then BFS-crawls the
// resolved root. Returns the resolved root's file_id, or (0, false, nil) if
// the repository path does not exist yet upstream (not an error — the
// Repository Surface will create it lazily).
func (w *Warmup) Run(ctx context.Context, repoPath string, force bool) (int64, bool, error) {
	if !force {
		count, err := w.store.Count(ctx)
		if err != nil {
			return 0, false, err
		}

		if count > 0 {
			w.logger.Info("index already populated, skipping warm-up", slog.Int64("rows", count))
			return w.resolveRootFromIndex(ctx, repoPath)
		}
	}

	w.logger.Info("rebuilding index from upstream", slog.String("repo_path", repoPath))

	if err := w.store.Truncate(ctx); err != nil {
		return 0, false, err
	}

	rootID, ok, err := w.resolveRootFromUpstream(ctx, repoPath)
	if err != nil {
		return 0, false, w.abandonPartial(ctx, err)
	}

	if !ok {
		w.logger.Warn("repository path does not exist upstream yet", slog.String("repo_path", repoPath))
		return 0, false, nil
	}

	if err := w.crawl(ctx, rootID); err != nil {
		return 0, false, w.abandonPartial(ctx, err)
	}

	return rootID, true, nil
}

// abandonPartial truncates whatever a failed rebuild managed to insert. A
// directory must be either absent or fully represented, so a half-populated
// index cannot be reused — emptying it makes the next start rebuild from
// scratch.
func (w *Warmup) abandonPartial(ctx context.Context, cause error) error {
	if err := w.store.Truncate(context.WithoutCancel(ctx)); err != nil {
		w.logger.Error("could not truncate partially rebuilt index", slog.String("error", err.Error()))
	}

	return cause
}

// resolveRootFromIndex walks the already-populated index rather than
// upstream — used when warm-up is skipped because the index was reused.
func (w *Warmup) resolveRootFromIndex(ctx context.Context, repoPath string) (int64, bool, error) {
	parentID := RootParentID

	for _, seg := range splitPath(repoPath) {
		node, ok, err := w.store.FindDirChild(ctx, parentID, seg)
		if err != nil {
			return 0, false, err
		}

		if !ok {
			return 0, false, nil
		}

		parentID = node.FileID
	}

	return parentID, true, nil
}

// resolveRootFromUpstream walks repoPath segment by segment, fetching each
// parent's listing from upstream and inserting only the matching directory
// row — it does not crawl the whole tree, just the path to the root.
func (w *Warmup) resolveRootFromUpstream(ctx context.Context, repoPath string) (int64, bool, error) {
	parentID := RootParentID

	for _, seg := range splitPath(repoPath) {
		entries, err := w.upstream.ListAll(ctx, parentID)
		if err != nil {
			return 0, false, err
		}

		found, ok := findDirByName(entries, seg)
		if !ok {
			return 0, false, nil
		}

		node := entryToNode(found, parentID)
		if err := w.store.UpsertByPK(ctx, node); err != nil {
			return 0, false, err
		}

		parentID = found.FileID
	}

	return parentID, true, nil
}

// crawl runs the BFS over an explicit work queue (not recursion, to avoid
// unbounded stack/goroutine growth on deep trees), paging every directory
// with no per-request timeout and bulk-inserting each page.
func (w *Warmup) crawl(ctx context.Context, rootID int64) error {
	queue := []int64{rootID}

	var totalRows int
	var totalBytes uint64

	for len(queue) > 0 {
		dirID := queue[0]
		queue = queue[1:]

		entries, err := w.upstream.ListAll(ctx, dirID)
		if err != nil {
			return fmt.Errorf("listing directory %d during warm-up: %w", dirID, err)
		}

		rows := make([]Node, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, entryToNode(e, dirID))

			if e.IsDir() {
				queue = append(queue, e.FileID)
			} else {
				totalBytes += uint64(e.Size)
			}
		}

		if err := w.store.BulkInsert(ctx, rows); err != nil {
			return fmt.Errorf("inserting directory %d during warm-up: %w", dirID, err)
		}

		totalRows += len(rows)
	}

	w.logger.Info("warm-up crawl complete",
		slog.Int("nodes_indexed", totalRows), slog.String("data_size", humanize.Bytes(totalBytes)))

	return nil
}

func entryToNode(e pan123.FileEntry, parentID int64) Node {
	return Node{
		FileID:    e.FileID,
		ParentID:  parentID,
		Name:      e.Filename,
		IsDir:     e.IsDir(),
		Size:      e.Size,
		UpdatedAt: time.Now(),
	}
}

func findDirByName(entries []pan123.FileEntry, name string) (pan123.FileEntry, bool) {
	for _, e := range entries {
		if e.Filename == name && e.IsDir() {
			return e, true
		}
	}

	return pan123.FileEntry{}, false
}

func splitPath(p string) []string {
	var segs []string

	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}

	return segs
}
