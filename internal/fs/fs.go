// Package fs provides the filesystem operations the collection store needs,
// behind an interface so tests can inject faults.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [Real]: production implementation using [os] and atomic renames
//   - [Chaos]: testing implementation that injects failures
//
// Example usage:
//
//	fsys := fs.NewReal()
//	data, err := fsys.ReadFile("todos.json")
//	if err != nil {
//	    return err
//	}
//
//	err = fsys.WriteFileAtomic("todos.json", data, 0o644)
package fs

import (
	"io"
	"os"
)

// Locker represents a held file lock.
// Call [Locker.Close] to release the lock.
//
// Example:
//
//	lock, err := fsys.Lock("todos.json")
//	if err != nil {
//	    return err // lock contention or timeout
//	}
//	defer lock.Close() // always release
//
//	// ... exclusive access to todos.json ...
type Locker interface {
	io.Closer
}

// FS defines the filesystem operations used for reading and replacing a
// whole document.
//
// Two implementations are provided:
//   - [Real]: production use, wraps [os] package
//   - [Chaos]: testing use, injects failures
type FS interface {
	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically.
	// Uses a temp file + rename so readers never observe a partial write.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	// No error if the directory already exists.
	MkdirAll(path string, perm os.FileMode) error

	// Lock acquires an exclusive advisory lock associated with path.
	// Blocks until the lock is acquired or returns error on timeout.
	// Call [Locker.Close] to release the lock.
	//
	// Used for coordinating read-modify-write cycles between processes.
	Lock(path string) (Locker, error)
}
