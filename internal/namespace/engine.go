// Package namespace implements the Namespace Engine: path resolution,
// directory creation with mkdir-race reconciliation, upload/move/delete,
// and download, keeping the local index synchronously consistent with
// every upstream mutation this process issues.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
	"github.com/tonimelisma/restic-pan123-backend/internal/pan123index"
)

// upstream is the slice of pan123.Client the engine needs — defined here,
// the consumer, so tests can substitute a fake without a real HTTP client.
type upstream interface {
	Mkdir(ctx context.Context, parentID int64, name string) (pan123.MkdirResult, error)
	ListAll(ctx context.Context, parentFileID int64) ([]pan123.FileEntry, error)
	Upload(ctx context.Context, parentID int64, filename string, content []byte) (pan123.UploadResult, error)
	Trash(ctx context.Context, fileIDs []int64) error
	Delete(ctx context.Context, fileIDs []int64) error
	Move(ctx context.Context, fileIDs []int64, toParentID int64) error
	GetDownloadURL(ctx context.Context, fileID int64) (string, error)
	Download(ctx context.Context, fileID int64, rng *pan123.ByteRange, w io.Writer) (int, int64, error)
}

// Engine is the Namespace Engine (C3).
type Engine struct {
	store    *pan123index.Store
	upstream upstream
	logger   *slog.Logger
}

// New builds an Engine over store and upstream client.
func New(store *pan123index.Store, up upstream, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{store: store, upstream: up, logger: logger}
}

// ErrNotADirectory is returned when a path segment resolves to a file.
var ErrNotADirectory = errors.New("namespace: path segment is not a directory")

// FindPathID resolves path to a file_id by walking the index only — no
// upstream call is made. Returns (0, false, nil) if any segment is absent.
func (e *Engine) FindPathID(ctx context.Context, path string) (int64, bool, error) {
	parentID := pan123index.RootParentID

	for _, seg := range splitPath(path) {
		node, ok, err := e.store.Child(ctx, parentID, seg)
		if err != nil {
			return 0, false, err
		}

		if !ok {
			return 0, false, nil
		}

		if !node.IsDir {
			return 0, false, nil
		}

		parentID = node.FileID
	}

	return parentID, true, nil
}

// EnsurePath resolves path, creating any missing segments (and their
// ancestors) via CreateDirectory.
func (e *Engine) EnsurePath(ctx context.Context, path string) (int64, error) {
	parentID := pan123index.RootParentID

	for _, seg := range splitPath(path) {
		node, ok, err := e.store.FindDirChild(ctx, parentID, seg)
		if err != nil {
			return 0, err
		}

		if ok {
			parentID = node.FileID
			continue
		}

		dirID, err := e.CreateDirectory(ctx, parentID, seg)
		if err != nil {
			return 0, err
		}

		parentID = dirID
	}

	return parentID, nil
}

// CreateDirectory issues the upstream mkdir and, on success, inserts the
// new row. On a duplicate-name response the index was stale: reconcile by
// re-fetching the single name first, falling back to a full listing
// refresh.
func (e *Engine) CreateDirectory(ctx context.Context, parentID int64, name string) (int64, error) {
	result, err := e.upstream.Mkdir(ctx, parentID, name)
	if err == nil {
		node := pan123index.Node{
			FileID: result.DirID, ParentID: parentID, Name: name,
			IsDir: true, UpdatedAt: time.Now(),
		}

		if err := e.store.UpsertByPK(ctx, node); err != nil {
			return 0, err
		}

		return result.DirID, nil
	}

	if !pan123.IsMkdirDuplicate(err) {
		return 0, err
	}

	return e.reconcileDuplicateMkdir(ctx, parentID, name)
}

// reconcileDuplicateMkdir implements the duplicate-name recovery path:
// re-fetch the single name first; if still unresolved, refresh the whole
// parent listing with do-nothing-on-conflict insert semantics and retry.
func (e *Engine) reconcileDuplicateMkdir(ctx context.Context, parentID int64, name string) (int64, error) {
	node, found, err := e.findFileUpstream(ctx, parentID, name)
	if err != nil {
		return 0, err
	}

	if found {
		if !node.IsDir {
			return 0, fmt.Errorf("%w: %q", ErrNotADirectory, name)
		}

		if err := e.store.UpsertByPK(ctx, node); err != nil {
			return 0, err
		}

		return node.FileID, nil
	}

	if err := e.refreshListing(ctx, parentID); err != nil {
		return 0, err
	}

	node, found, err = e.store.FindDirChild(ctx, parentID, name)
	if err != nil {
		return 0, err
	}

	if found {
		return node.FileID, nil
	}

	return 0, fmt.Errorf("%w: mkdir reported duplicate for %q but it cannot be found", pan123.ErrInternal, name)
}

// findFileUpstream lists parentID upstream and looks for name, without
// touching the index (the caller decides what to persist).
func (e *Engine) findFileUpstream(ctx context.Context, parentID int64, name string) (pan123index.Node, bool, error) {
	entries, err := e.upstream.ListAll(ctx, parentID)
	if err != nil {
		return pan123index.Node{}, false, err
	}

	for _, entry := range entries {
		if entry.Filename == name {
			return pan123index.Node{
				FileID: entry.FileID, ParentID: parentID, Name: entry.Filename,
				IsDir: entry.IsDir(), Size: entry.Size, UpdatedAt: time.Now(),
			}, true, nil
		}
	}

	return pan123index.Node{}, false, nil
}

// refreshListing re-fetches parentID's full listing upstream and inserts
// every row with do-nothing-on-conflict semantics.
func (e *Engine) refreshListing(ctx context.Context, parentID int64) error {
	entries, err := e.upstream.ListAll(ctx, parentID)
	if err != nil {
		return err
	}

	rows := make([]pan123index.Node, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, pan123index.Node{
			FileID: entry.FileID, ParentID: parentID, Name: entry.Filename,
			IsDir: entry.IsDir(), Size: entry.Size, UpdatedAt: time.Now(),
		})
	}

	return e.store.BulkInsert(ctx, rows)
}

// FindFile reads solely from the index. Freshness is the caller's
// responsibility — only warm-up and mkdir reconciliation refresh from
// upstream.
func (e *Engine) FindFile(ctx context.Context, parentID int64, name string) (pan123index.Node, bool, error) {
	return e.store.Child(ctx, parentID, name)
}

// ListFiles reads all children of parentID from the index.
func (e *Engine) ListFiles(ctx context.Context, parentID int64) ([]pan123index.Node, error) {
	return e.store.Children(ctx, parentID)
}

// UploadFile uploads content as filename under parentID with atomic
// overwrite semantics, then upserts the index keyed on (parent_id, name)
// so an overwrite's new file_id replaces rather than duplicates the row.
func (e *Engine) UploadFile(ctx context.Context, parentID int64, filename string, content []byte) (pan123index.Node, error) {
	result, err := e.upstream.Upload(ctx, parentID, filename, content)
	if err != nil {
		return pan123index.Node{}, err
	}

	node := pan123index.Node{
		FileID: result.FileID, ParentID: parentID, Name: filename,
		IsDir: false, Size: result.Size, ETag: result.ETag, UpdatedAt: time.Now(),
	}

	if err := e.store.UpsertByParentName(ctx, node); err != nil {
		return pan123index.Node{}, err
	}

	return node, nil
}

// DeleteFile trashes then permanently deletes fileID upstream, then
// removes its index row.
func (e *Engine) DeleteFile(ctx context.Context, fileID int64) error {
	if err := e.upstream.Trash(ctx, []int64{fileID}); err != nil {
		return err
	}

	if err := e.upstream.Delete(ctx, []int64{fileID}); err != nil {
		return err
	}

	return e.store.DeleteByID(ctx, fileID)
}

// MoveFiles relocates fileIDs to newParentID, chunking at the upstream's
// per-call batch limit, then bulk-updates the index in one statement.
func (e *Engine) MoveFiles(ctx context.Context, fileIDs []int64, newParentID int64) error {
	for start := 0; start < len(fileIDs); start += pan123.MoveBatchLimit {
		end := min(start+pan123.MoveBatchLimit, len(fileIDs))
		if err := e.upstream.Move(ctx, fileIDs[start:end], newParentID); err != nil {
			return err
		}
	}

	return e.store.UpdateParent(ctx, fileIDs, newParentID)
}

// GetDownloadURL resolves fileID's signed download URL.
func (e *Engine) GetDownloadURL(ctx context.Context, fileID int64) (string, error) {
	return e.upstream.GetDownloadURL(ctx, fileID)
}

// DownloadFile streams fileID's content (optionally range-restricted) to
// w, returning the HTTP status observed and bytes written.
func (e *Engine) DownloadFile(ctx context.Context, fileID int64, rng *pan123.ByteRange, w io.Writer) (int, int64, error) {
	return e.upstream.Download(ctx, fileID, rng, w)
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
