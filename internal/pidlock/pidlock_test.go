package pidlock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_WritesPIDAndCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "restic-pan123.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	contents, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquire_SecondAcquireOnSamePathFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restic-pan123.pid")

	first, err := Acquire(path)
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestRelease_RemovesFileAndAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restic-pan123.pid")

	first, err := Acquire(path)
	require.NoError(t, err)

	first.Release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	second, err := Acquire(path)
	require.NoError(t, err)
	defer second.Release()
}

func TestAcquire_EmptyPathIsRejected(t *testing.T) {
	_, err := Acquire("")
	require.Error(t, err)
}
