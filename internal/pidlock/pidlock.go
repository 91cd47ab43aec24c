// Package pidlock provides a single-instance file lock for the serve
// command, so two restic-pan123-backend servers never open the same
// SQLite index concurrently with conflicting migration state.
package pidlock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// filePermissions matches the repo's other state files (owner rw, group/other r).
const filePermissions = 0o644

// dirPermissions matches the repo's other state directories.
const dirPermissions = 0o755

// Lock is an acquired, exclusive PID-file lock. Release removes the file and
// drops the flock.
type Lock struct {
	file *os.File
	path string
}

// Acquire opens path, takes a non-blocking exclusive flock, and writes the
// current PID. If another process already holds the lock, it returns an
// error naming the path rather than blocking.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("pid file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating pid file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening pid file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another instance is already running (could not lock %s): %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating pid file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing pid file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing pid file: %w", err)
	}

	return &Lock{file: f, path: path}, nil
}

// Release removes the pid file and releases the flock.
func (l *Lock) Release() {
	os.Remove(l.path)
	l.file.Close()
}
