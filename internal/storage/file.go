package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/calvinalkan/todo-api/internal/fs"
)

const (
	filePerms = 0o644
	dirPerms  = 0o755
)

// FileBackend stores the document at a single path.
type FileBackend struct {
	fs   fs.FS
	path string
}

// NewFileBackend returns a backend for path on fsys.
// Panics if fsys is nil.
func NewFileBackend(fsys fs.FS, path string) (*FileBackend, error) {
	if fsys == nil {
		panic("fs is nil")
	}

	if path == "" {
		return nil, errPathRequired
	}

	return &FileBackend{fs: fsys, path: path}, nil
}

// Path returns the document path.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Name() string { return "file:" + b.path }

func (b *FileBackend) Read(_ context.Context) ([]byte, error) {
	data, err := b.fs.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}

	return data, nil
}

// Write creates the parent directory if needed and atomically replaces the
// file.
func (b *FileBackend) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.path)

	err := b.fs.MkdirAll(dir, dirPerms)
	if err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	err = b.fs.WriteFileAtomic(b.path, data, filePerms)
	if err != nil {
		return fmt.Errorf("write %s: %w", b.path, err)
	}

	return nil
}

// Lock takes the advisory file lock for the document.
func (b *FileBackend) Lock(_ context.Context) (io.Closer, error) {
	lock, err := b.fs.Lock(b.path)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", b.path, err)
	}

	return lock, nil
}
