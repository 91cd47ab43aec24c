package pan123index

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), ":memory:", testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, store.Close()) })

	return store
}

func TestOpen_AppliesMigrationsIdempotently(t *testing.T) {
	store := newTestStore(t)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChild_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Child(context.Background(), RootParentID, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertByPK_UniqueOnParentName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n := Node{FileID: 1, ParentID: RootParentID, Name: "dir", IsDir: true, UpdatedAt: time.Now()}
	require.NoError(t, store.UpsertByPK(ctx, n))

	got, ok, err := store.Child(ctx, RootParentID, "dir")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.FileID)
	assert.True(t, got.IsDir)
}

func TestUpsertByPK_OverwritesSameID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertByPK(ctx, Node{FileID: 1, ParentID: 0, Name: "a", UpdatedAt: time.Now()}))
	require.NoError(t, store.UpsertByPK(ctx, Node{FileID: 1, ParentID: 0, Name: "a", Size: 99, UpdatedAt: time.Now()}))

	got, ok, err := store.Child(ctx, 0, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 99, got.Size)
}

// TestUpsertByParentName_OverwriteReplacesFileID checks that after
// uploading the same (parent, name) twice with a different size, find_file
// returns exactly one row reflecting the newer upload.
func TestUpsertByParentName_OverwriteReplacesFileID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := Node{FileID: 10, ParentID: 0, Name: "snapshots/abc", Size: 16, ETag: "etag1", UpdatedAt: time.Now()}
	require.NoError(t, store.UpsertByParentName(ctx, first))

	second := Node{FileID: 11, ParentID: 0, Name: "snapshots/abc", Size: 32, ETag: "etag2", UpdatedAt: time.Now()}
	require.NoError(t, store.UpsertByParentName(ctx, second))

	got, ok, err := store.Child(ctx, 0, "snapshots/abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(11), got.FileID)
	assert.EqualValues(t, 32, got.Size)
	assert.Equal(t, "etag2", got.ETag)

	children, err := store.Children(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestDeleteByID_RemovesRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertByPK(ctx, Node{FileID: 5, ParentID: 0, Name: "x", UpdatedAt: time.Now()}))
	require.NoError(t, store.DeleteByID(ctx, 5))

	_, ok, err := store.Child(ctx, 0, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateParent_BulkMove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertByPK(ctx, Node{FileID: 1, ParentID: 0, Name: "a", UpdatedAt: time.Now()}))
	require.NoError(t, store.UpsertByPK(ctx, Node{FileID: 2, ParentID: 0, Name: "b", UpdatedAt: time.Now()}))

	require.NoError(t, store.UpdateParent(ctx, []int64{1, 2}, 99))

	children, err := store.Children(ctx, 99)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestBulkInsert_ChunksAndIgnoresConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rows := make([]Node, 0, 120)
	for i := range 120 {
		rows = append(rows, Node{
			FileID: int64(i + 1), ParentID: 0, Name: string(rune('a' + i%26)) + string(rune(i)), UpdatedAt: time.Now(),
		})
	}

	require.NoError(t, store.BulkInsert(ctx, rows))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 120, count)

	// Re-inserting the same rows must not duplicate or error (do-nothing-
	// on-conflict semantics, used by mkdir-race reconciliation).
	require.NoError(t, store.BulkInsert(ctx, rows))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 120, count)
}

func TestTruncate_EmptiesTable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertByPK(ctx, Node{FileID: 1, ParentID: 0, Name: "a", UpdatedAt: time.Now()}))
	require.NoError(t, store.Truncate(ctx))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTokenRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	empty, err := store.LoadToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.AccessToken)

	tok := pan123.Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second)}
	require.NoError(t, store.SaveToken(ctx, tok))

	got, err := store.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, got.AccessToken)
	assert.True(t, tok.ExpiresAt.Equal(got.ExpiresAt))

	// Overwrite on every successful refresh.
	tok2 := pan123.Token{AccessToken: "def", ExpiresAt: time.Now().Add(2 * time.Hour).Truncate(time.Second)}
	require.NoError(t, store.SaveToken(ctx, tok2))

	got2, err := store.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "def", got2.AccessToken)
}

func TestFindDirChild_FiltersNonDirectories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertByPK(ctx, Node{FileID: 1, ParentID: 0, Name: "file.txt", IsDir: false, UpdatedAt: time.Now()}))

	_, ok, err := store.FindDirChild(ctx, 0, "file.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}
