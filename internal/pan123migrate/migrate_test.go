package pan123migrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123index"
)

// fakeEngine models just enough of namespace.Engine to drive the migration
// algorithm: a data/ directory containing a mix of shard subdirectories and
// legacy flat files, plus the ability to script a MoveFiles failure for one
// shard.
type fakeEngine struct {
	nextID int64
	paths  map[string]int64 // path -> id, for directories that exist
	files  []pan123index.Node

	ensurePathCalls int
	moveCalls       [][]int64
	moveFailPrefix  string
}

func newFakeEngine(dataPath string, files []pan123index.Node, existingShards ...string) *fakeEngine {
	f := &fakeEngine{nextID: 1, paths: map[string]int64{}, files: files}
	f.nextID++
	f.paths[dataPath] = f.nextID

	for _, s := range existingShards {
		f.nextID++
		f.paths[dataPath+"/"+s] = f.nextID
	}

	return f
}

func (f *fakeEngine) FindPathID(_ context.Context, path string) (int64, bool, error) {
	id, ok := f.paths[path]
	return id, ok, nil
}

func (f *fakeEngine) EnsurePath(_ context.Context, path string) (int64, error) {
	f.ensurePathCalls++

	if id, ok := f.paths[path]; ok {
		return id, nil
	}

	f.nextID++
	f.paths[path] = f.nextID

	return f.nextID, nil
}

func (f *fakeEngine) ListFiles(_ context.Context, parentID int64) ([]pan123index.Node, error) {
	// Only the data/ directory itself has pre-seeded children in this fake;
	// shard directories are always empty (files live in f.files directly).
	for path, id := range f.paths {
		if id != parentID {
			continue
		}

		var nodes []pan123index.Node

		nodes = append(nodes, f.files...)

		for shardPath, shardID := range f.paths {
			if shardPath == path {
				continue
			}

			if len(shardPath) > len(path) && shardPath[:len(path)] == path {
				nodes = append(nodes, pan123index.Node{FileID: shardID, ParentID: parentID, Name: shardPath[len(path)+1:], IsDir: true})
			}
		}

		return nodes, nil
	}

	return nil, nil
}

func (f *fakeEngine) MoveFiles(_ context.Context, fileIDs []int64, _ int64) error {
	f.moveCalls = append(f.moveCalls, fileIDs)

	if f.moveFailPrefix != "" {
		for _, id := range fileIDs {
			for _, n := range f.files {
				if n.FileID == id && n.Name[:hexShardLen] == f.moveFailPrefix {
					return fmt.Errorf("fakeEngine: simulated move failure for shard %s", f.moveFailPrefix)
				}
			}
		}
	}

	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_DataDirectoryAbsent_NoopsCleanly(t *testing.T) {
	eng := &fakeEngine{paths: map[string]int64{}}
	m := New(eng, discardLogger())

	report, err := m.Run(context.Background(), Options{RepoPath: "/restic-backup"})
	require.NoError(t, err)
	assert.Zero(t, report.ShardsCreated)
	assert.Zero(t, report.FilesMoved)
}

func TestRun_CreatesAllMissingShards(t *testing.T) {
	eng := newFakeEngine("/restic-backup/data", nil)
	m := New(eng, discardLogger())

	report, err := m.Run(context.Background(), Options{RepoPath: "/restic-backup"})
	require.NoError(t, err)
	assert.Equal(t, 256, report.ShardsCreated)
}

func TestRun_SkipsAlreadyExistingShards(t *testing.T) {
	eng := newFakeEngine("/restic-backup/data", nil, "aa", "ff")
	m := New(eng, discardLogger())

	report, err := m.Run(context.Background(), Options{RepoPath: "/restic-backup"})
	require.NoError(t, err)
	assert.Equal(t, 254, report.ShardsCreated)
}

func TestRun_MovesFlatFilesIntoShards(t *testing.T) {
	files := []pan123index.Node{
		{FileID: 10, Name: "aa0011223344556677889900aabbccddeeff0011223344556677889900aabb"},
		{FileID: 11, Name: "aa1111111111111111111111111111111111111111111111111111111111aa"},
		{FileID: 12, Name: "ff2222222222222222222222222222222222222222222222222222222222ff"},
	}

	eng := newFakeEngine("/restic-backup/data", files)
	m := New(eng, discardLogger())

	report, err := m.Run(context.Background(), Options{RepoPath: "/restic-backup"})
	require.NoError(t, err)
	assert.Equal(t, 3, report.FilesMoved)
	assert.Zero(t, report.FilesFailed)

	// Two prefix groups (aa, ff), so two upstream Move calls, each under
	// the batch limit.
	assert.Len(t, eng.moveCalls, 2)
}

func TestRun_DryRun_IssuesNoMutatingCalls(t *testing.T) {
	files := []pan123index.Node{
		{FileID: 10, Name: "aa0011223344556677889900aabbccddeeff0011223344556677889900aabb"},
	}

	eng := newFakeEngine("/restic-backup/data", files)
	m := New(eng, discardLogger())

	report, err := m.Run(context.Background(), Options{RepoPath: "/restic-backup", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 256, report.ShardsCreated)
	assert.Equal(t, 1, report.FilesMoved)
	assert.Empty(t, eng.moveCalls)
}

func TestRun_PerGroupFailureAccumulatesAndDoesNotAbort(t *testing.T) {
	files := []pan123index.Node{
		{FileID: 10, Name: "aa0011223344556677889900aabbccddeeff0011223344556677889900aabb"},
		{FileID: 12, Name: "ff2222222222222222222222222222222222222222222222222222222222ff"},
	}

	eng := newFakeEngine("/restic-backup/data", files)
	eng.moveFailPrefix = "aa"
	m := New(eng, discardLogger())

	report, err := m.Run(context.Background(), Options{RepoPath: "/restic-backup"})
	require.Error(t, err)
	assert.Equal(t, 1, report.FilesMoved)
	assert.Equal(t, 1, report.FilesFailed)
}

func TestRun_ReportsProgressPerShard(t *testing.T) {
	files := []pan123index.Node{
		{FileID: 10, Name: "aa0011223344556677889900aabbccddeeff0011223344556677889900aabb"},
	}

	eng := newFakeEngine("/restic-backup/data", files)
	m := New(eng, discardLogger())

	var gotShard string

	var gotMoved int

	m.Progress = func(shard string, moved, failed int) {
		gotShard = shard
		gotMoved = moved
	}

	_, err := m.Run(context.Background(), Options{RepoPath: "/restic-backup"})
	require.NoError(t, err)
	assert.Equal(t, "aa", gotShard)
	assert.Equal(t, 1, gotMoved)
}

func TestGroupByPrefix_BucketsByFirstTwoCharacters(t *testing.T) {
	files := []pan123index.Node{
		{FileID: 1, Name: "aabbcc"},
		{FileID: 2, Name: "aaddee"},
		{FileID: 3, Name: "ff0011"},
	}

	groups := groupByPrefix(files)
	assert.Len(t, groups, 2)
	assert.Len(t, groups["aa"], 2)
	assert.Len(t, groups["ff"], 1)
}

func TestHexPrefixes_Covers256Shards(t *testing.T) {
	assert.Len(t, HexPrefixes, 256)
	assert.Equal(t, "00", HexPrefixes[0])
	assert.Equal(t, "ff", HexPrefixes[255])
}
