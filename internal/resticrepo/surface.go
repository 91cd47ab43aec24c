package resticrepo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
	"github.com/tonimelisma/restic-pan123-backend/internal/pan123index"
)

// engine is the slice of namespace.Engine Surface needs — defined here,
// the consumer, per "accept interfaces, return structs".
type engine interface {
	EnsurePath(ctx context.Context, path string) (int64, error)
	FindPathID(ctx context.Context, path string) (int64, bool, error)
	FindFile(ctx context.Context, parentID int64, name string) (pan123index.Node, bool, error)
	ListFiles(ctx context.Context, parentID int64) ([]pan123index.Node, error)
	UploadFile(ctx context.Context, parentID int64, filename string, content []byte) (pan123index.Node, error)
	DeleteFile(ctx context.Context, fileID int64) error
	GetDownloadURL(ctx context.Context, fileID int64) (string, error)
	DownloadFile(ctx context.Context, fileID int64, rng *pan123.ByteRange, w io.Writer) (int, int64, error)
}

// Surface is the Repository Surface (C5).
type Surface struct {
	engine   engine
	repoPath string
	logger   *slog.Logger

	mu      sync.Mutex
	rootID  int64
	haveID  bool
	typeIDs map[Type]int64
}

// New builds a Surface over eng, rooted at repoPath (an upstream absolute
// path, e.g. "/restic-backup").
func New(eng engine, repoPath string, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}

	return &Surface{engine: eng, repoPath: repoPath, logger: logger, typeIDs: make(map[Type]int64)}
}

// InitRepository ensure-paths the repository root and each of the five
// type directories. Shard directories under data/ are created lazily on
// first write.
func (s *Surface) InitRepository(ctx context.Context) error {
	rootID, err := s.root(ctx)
	if err != nil {
		return err
	}

	for _, t := range dirTypes {
		if _, err := s.engine.EnsurePath(ctx, s.repoPath+"/"+string(t)); err != nil {
			return fmt.Errorf("initializing %s directory: %w", t, err)
		}
	}

	s.logger.Info("repository initialized", slog.String("repo_path", s.repoPath), slog.Int64("root_id", rootID))

	return nil
}

// root resolves and caches the repository root's file_id.
func (s *Surface) root(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.haveID {
		return s.rootID, nil
	}

	id, err := s.engine.EnsurePath(ctx, s.repoPath)
	if err != nil {
		return 0, fmt.Errorf("resolving repository root: %w", err)
	}

	s.rootID = id
	s.haveID = true

	return id, nil
}

// typeDirID resolves (creating if necessary) the directory id for a
// non-data, non-config type.
func (s *Surface) typeDirID(ctx context.Context, t Type) (int64, error) {
	s.mu.Lock()
	if id, ok := s.typeIDs[t]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	id, err := s.engine.EnsurePath(ctx, s.repoPath+"/"+string(t))
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.typeIDs[t] = id
	s.mu.Unlock()

	return id, nil
}

// dataShardDirID ensure-paths the two-hex-character shard directory for a
// data-type filename.
func (s *Surface) dataShardDirID(ctx context.Context, filename string) (int64, error) {
	if len(filename) < hexShardLen {
		return 0, fmt.Errorf("%w: data filename %q too short for shard prefix", ErrBadRequest, filename)
	}

	shard := filename[:hexShardLen]

	return s.engine.EnsurePath(ctx, s.repoPath+"/"+string(TypeData)+"/"+shard)
}

// parentFor resolves the parent directory id for t/name. config has no
// parent other than the repository root itself.
func (s *Surface) parentFor(ctx context.Context, t Type, name string) (int64, error) {
	switch t {
	case TypeConfig:
		return s.root(ctx)
	case TypeData:
		return s.dataShardDirID(ctx, name)
	default:
		return s.typeDirID(ctx, t)
	}
}

// Stat looks up t/name in the index (no upstream call).
func (s *Surface) Stat(ctx context.Context, t Type, name string) (pan123index.Node, bool, error) {
	parentID, err := s.parentFor(ctx, t, configName(t, name))
	if err != nil {
		return pan123index.Node{}, false, err
	}

	return s.engine.FindFile(ctx, parentID, configName(t, name))
}

// Upload writes content as t/name with atomic-overwrite semantics.
func (s *Surface) Upload(ctx context.Context, t Type, name string, content []byte) (pan123index.Node, error) {
	parentID, err := s.parentFor(ctx, t, configName(t, name))
	if err != nil {
		return pan123index.Node{}, err
	}

	return s.engine.UploadFile(ctx, parentID, configName(t, name), content)
}

// Download streams t/name's content, optionally range-restricted.
func (s *Surface) Download(ctx context.Context, t Type, name string, rng *pan123.ByteRange, w io.Writer) (int, int64, error) {
	node, ok, err := s.Stat(ctx, t, name)
	if err != nil {
		return 0, 0, err
	}

	if !ok {
		return 0, 0, fmt.Errorf("%w: %s/%s", ErrNotFound, t, name)
	}

	return s.engine.DownloadFile(ctx, node.FileID, rng, w)
}

// Delete removes t/name. Idempotent: absent is not an error, matching the
// Restic REST contract's DELETE semantics.
func (s *Surface) Delete(ctx context.Context, t Type, name string) error {
	node, ok, err := s.Stat(ctx, t, name)
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	return s.engine.DeleteFile(ctx, node.FileID)
}

// List returns [{name, size}] for every file of type t. For TypeData this
// aggregates across all populated shard directories.
func (s *Surface) List(ctx context.Context, t Type) ([]Entry, error) {
	if t == TypeConfig {
		return nil, fmt.Errorf("%w: config has no list operation", ErrBadRequest)
	}

	if t == TypeData {
		return s.listAllDataFiles(ctx)
	}

	dirID, err := s.typeDirID(ctx, t)
	if err != nil {
		return nil, err
	}

	return s.listDir(ctx, dirID)
}

// listAllDataFiles lists every child directory of data/ and unions their
// file children.
func (s *Surface) listAllDataFiles(ctx context.Context) ([]Entry, error) {
	dataID, err := s.typeDirID(ctx, TypeData)
	if err != nil {
		return nil, err
	}

	shards, err := s.engine.ListFiles(ctx, dataID)
	if err != nil {
		return nil, err
	}

	var entries []Entry

	for _, shard := range shards {
		if !shard.IsDir {
			continue
		}

		children, err := s.listDir(ctx, shard.FileID)
		if err != nil {
			return nil, err
		}

		entries = append(entries, children...)
	}

	return entries, nil
}

func (s *Surface) listDir(ctx context.Context, dirID int64) ([]Entry, error) {
	nodes, err := s.engine.ListFiles(ctx, dirID)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(nodes))

	for _, n := range nodes {
		if n.IsDir {
			continue
		}

		entries = append(entries, Entry{Name: n.Name, Size: n.Size})
	}

	return entries, nil
}

// configName returns the on-disk filename for t/name: config's single file
// is always literally named "config" regardless of what the glue layer
// passes as name (the downstream route carries no name segment for it).
func configName(t Type, name string) string {
	if t == TypeConfig {
		return "config"
	}

	return name
}
