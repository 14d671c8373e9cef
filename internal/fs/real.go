package fs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// Real implements [FS] using the real filesystem.
//
// Methods are passthroughs to the [os] package except
// [Real.WriteFileAtomic] which uses atomic file writes, and [Real.Lock] which
// provides file locking.
type Real struct {
	// LockTimeout bounds how long Lock waits. Zero means [DefaultLockTimeout].
	LockTimeout time.Duration
}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// A passthrough wrapper for [os.ReadFile].
func (r *Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path. The mode of an existing file is preserved by
// [atomic.WriteFile]; new files get perm.
func (r *Real) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	existed, err := exists(path)
	if err != nil {
		return err
	}

	err = atomic.WriteFile(path, bytes.NewReader(data))
	if err != nil {
		return err
	}

	if !existed && perm != 0 {
		return os.Chmod(path, perm)
	}

	return nil
}

// A passthrough wrapper for [os.MkdirAll].
func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// exists returns (true, nil) if path exists, (false, nil) if it does not,
// or (false, err) for other stat errors.
func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// --- Locking ---

// DefaultLockTimeout is used when [Real.LockTimeout] is zero.
const DefaultLockTimeout = 2 * time.Second

const (
	lockPerms    = 0o644
	dirPerms     = 0o755
	locksDirName = ".locks"
)

// realLock holds an exclusive file lock.
type realLock struct {
	path string
	file *os.File
}

// Close releases the lock and removes the lock file.
// Order matters: remove while holding lock, then unlock, then close.
func (l *realLock) Close() error {
	if l.file == nil {
		return nil
	}

	_ = os.Remove(l.path)
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil

	return err
}

// Lock takes an exclusive flock on <dir>/.locks/<base>.lock.
//
// The lock file lives in a subdirectory so the data file's directory is not
// touched on every acquire. After flock succeeds the inode at the path is
// compared with the one locked; if another holder removed and recreated the
// file in between, acquisition is retried.
func (r *Real) Lock(path string) (Locker, error) {
	timeout := r.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	locksDir := filepath.Join(filepath.Dir(path), locksDirName)
	lockPath := filepath.Join(locksDir, filepath.Base(path)+".lock")

	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("lock %s: %w", path, os.ErrDeadlineExceeded)
		}

		mkdirErr := os.MkdirAll(locksDir, dirPerms)
		if mkdirErr != nil {
			return nil, mkdirErr
		}

		file, openErr := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, lockPerms)
		if openErr != nil {
			return nil, openErr
		}

		var openStat unix.Stat_t

		statErr := unix.Fstat(int(file.Fd()), &openStat)
		if statErr != nil {
			_ = file.Close()

			return nil, statErr
		}

		fd := int(file.Fd())
		done := make(chan error, 1)

		go func() {
			done <- unix.Flock(fd, unix.LOCK_EX)
		}()

		select {
		case err := <-done:
			if err != nil {
				_ = file.Close()

				return nil, err
			}

			var pathStat unix.Stat_t

			err = unix.Stat(lockPath, &pathStat)
			if err != nil || pathStat.Ino != openStat.Ino {
				// Replaced while we waited, retry with the new file.
				_ = unix.Flock(fd, unix.LOCK_UN)
				_ = file.Close()

				continue
			}

			return &realLock{path: lockPath, file: file}, nil

		case <-time.After(remaining):
			// Closing the fd releases the flock if the goroutine wins later.
			_ = file.Close()

			return nil, fmt.Errorf("lock %s: %w", path, os.ErrDeadlineExceeded)
		}
	}
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
