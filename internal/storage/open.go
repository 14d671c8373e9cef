package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/todo-api/internal/fs"
)

// Backend names accepted by [Open].
const (
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// OpenConfig selects and configures a backend.
type OpenConfig struct {
	Backend  string
	DataFile string
	S3       S3Config
	FS       fs.FS // file backend only; nil means fs.NewReal()
}

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg OpenConfig) (Backend, error) {
	switch cfg.Backend {
	case BackendFile, "":
		fsys := cfg.FS
		if fsys == nil {
			fsys = fs.NewReal()
		}

		return NewFileBackend(fsys, cfg.DataFile)
	case BackendS3:
		return NewS3Backend(ctx, cfg.S3)
	case BackendMemory:
		return NewMemoryBackend(nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// OpenStore opens the backend named by cfg and wraps it in a [Store].
func OpenStore(ctx context.Context, cfg OpenConfig, log logrus.FieldLogger, opts Options) (*Store, error) {
	backend, err := Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	store := New(backend, log, opts)

	store.log.WithFields(logrus.Fields{
		"backend":     backend.Name(),
		"serialize":   opts.Serialize,
		"strict_load": opts.StrictLoad,
	}).Info("Opened collection storage")

	return store, nil
}
