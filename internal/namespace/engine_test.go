package namespace

import (
	"context"
	"crypto/md5" //nolint:gosec // test assertion mirrors the protocol's own etag algorithm
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
	"github.com/tonimelisma/restic-pan123-backend/internal/pan123index"
)

// fakeUpstream is a scripted in-memory stand-in for pan123.Client, letting
// tests drive mkdir races, upload overwrites, and download behavior without
// an HTTP server.
type fakeUpstream struct {
	nextID int64

	// dirs maps parentID -> name -> fileID for directories that "exist"
	// upstream (used to script duplicate-mkdir races).
	dirs map[int64]map[string]int64

	mkdirCalls  int
	listCalls   int
	uploadCalls int
	moveCalls   [][]int64
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{nextID: 100, dirs: map[int64]map[string]int64{0: {}}}
}

// Mkdir never returns the duplicate-name sentinel here: that sentinel is an
// unexported value inside pan123, so only a real pan123.Client (driven
// against a scripted httptest server, as in engine_duplicate_test.go) can
// produce it. fakeUpstream therefore only models the non-racing path; the
// mkdir-race reconciliation path is covered against a real client instead.
func (f *fakeUpstream) Mkdir(_ context.Context, parentID int64, name string) (pan123.MkdirResult, error) {
	f.mkdirCalls++

	if _, exists := f.dirs[parentID][name]; exists {
		return pan123.MkdirResult{}, fmt.Errorf("fakeUpstream: %q already exists under %d", name, parentID)
	}

	f.nextID++
	id := f.nextID

	if f.dirs[parentID] == nil {
		f.dirs[parentID] = map[string]int64{}
	}

	f.dirs[parentID][name] = id
	f.dirs[id] = map[string]int64{}

	return pan123.MkdirResult{DirID: id}, nil
}

func (f *fakeUpstream) ListAll(_ context.Context, parentFileID int64) ([]pan123.FileEntry, error) {
	f.listCalls++

	var entries []pan123.FileEntry

	for name, id := range f.dirs[parentFileID] {
		entries = append(entries, pan123.FileEntry{FileID: id, Filename: name, Type: 1, ParentFileID: parentFileID})
	}

	return entries, nil
}

func (f *fakeUpstream) Upload(_ context.Context, parentID int64, filename string, content []byte) (pan123.UploadResult, error) {
	f.uploadCalls++
	f.nextID++

	sum := md5.Sum(content) //nolint:gosec // test mirrors protocol etag algorithm
	return pan123.UploadResult{FileID: f.nextID, ETag: hex.EncodeToString(sum[:]), Size: int64(len(content))}, nil
}

func (f *fakeUpstream) Trash(_ context.Context, _ []int64) error { return nil }
func (f *fakeUpstream) Delete(_ context.Context, _ []int64) error { return nil }

func (f *fakeUpstream) Move(_ context.Context, fileIDs []int64, _ int64) error {
	f.moveCalls = append(f.moveCalls, fileIDs)
	return nil
}

func (f *fakeUpstream) GetDownloadURL(_ context.Context, _ int64) (string, error) {
	return "https://example.invalid/download", nil
}

func (f *fakeUpstream) Download(_ context.Context, _ int64, _ *pan123.ByteRange, _ io.Writer) (int, int64, error) {
	return 200, 0, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *pan123index.Store, *fakeUpstream) {
	t.Helper()

	store, err := pan123index.Open(context.Background(), ":memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	up := newFakeUpstream()
	eng := New(store, up, discardLogger())

	return eng, store, up
}

func TestFindPathID_AbsentSegmentReturnsNotFound(t *testing.T) {
	eng, _, up := newTestEngine(t)

	_, ok, err := eng.FindPathID(context.Background(), "a/b/c")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, up.listCalls, "FindPathID must never call upstream")
}

func TestEnsurePath_CreatesMissingSegmentsAndIsIdempotent(t *testing.T) {
	eng, _, up := newTestEngine(t)
	ctx := context.Background()

	id1, err := eng.EnsurePath(ctx, "restic-backup/data")
	require.NoError(t, err)
	assert.NotZero(t, id1)
	assert.Equal(t, 2, up.mkdirCalls)

	// A second EnsurePath of the same path returns the same id and issues no
	// further mkdir calls.
	id2, err := eng.EnsurePath(ctx, "restic-backup/data")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 2, up.mkdirCalls)
}

func TestUploadFile_ThenFindFile_MatchesSizeAndETag(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	content := []byte("hello restic")
	node, err := eng.UploadFile(ctx, 0, "snapshots/abc", content)
	require.NoError(t, err)

	got, ok, err := eng.FindFile(ctx, 0, "snapshots/abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, len(content), got.Size)
	assert.Equal(t, node.ETag, got.ETag)

	sum := md5.Sum(content) //nolint:gosec // test mirrors protocol etag algorithm
	assert.Equal(t, hex.EncodeToString(sum[:]), got.ETag)
}

func TestUploadFile_OverwriteReplacesSingleRow(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.UploadFile(ctx, 0, "keys/k", []byte("AAAAAAAA"))
	require.NoError(t, err)

	_, err = eng.UploadFile(ctx, 0, "keys/k", []byte("BBBBBBBBBBBB"))
	require.NoError(t, err)

	got, ok, err := eng.FindFile(ctx, 0, "keys/k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 12, got.Size)

	children, err := eng.ListFiles(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestDeleteFile_RemovesFromIndex(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	node, err := eng.UploadFile(ctx, 0, "locks/l1", []byte("lock"))
	require.NoError(t, err)

	require.NoError(t, eng.DeleteFile(ctx, node.FileID))

	_, ok, err := eng.FindFile(ctx, 0, "locks/l1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMoveFiles_ChunksAtBatchLimitAndUpdatesIndex(t *testing.T) {
	eng, _, up := newTestEngine(t)
	ctx := context.Background()

	ids := make([]int64, 0, 250)

	for i := range 250 {
		n, err := eng.UploadFile(ctx, 0, string(rune('a'))+string(rune(i)), []byte("x"))
		require.NoError(t, err)
		ids = append(ids, n.FileID)
	}

	require.NoError(t, eng.MoveFiles(ctx, ids, 999))

	// 250 ids at a 100-item batch limit = 3 upstream Move calls.
	assert.Len(t, up.moveCalls, 3)

	children, err := eng.ListFiles(ctx, 999)
	require.NoError(t, err)
	assert.Len(t, children, 250)
}
