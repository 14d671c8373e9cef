// Package storage persists a todo collection as one JSON document.
//
// A [Backend] moves the raw document bytes; [Store] owns encoding, the
// lenient-or-strict load policy and the load-mutate-save cycle.
package storage

import (
	"context"
	"io"
)

// Backend reads and replaces a whole document.
//
// Read returns an error satisfying errors.Is(err, os.ErrNotExist) when the
// document has never been written. Write must replace the document so that
// no reader observes a partial write.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Name identifies the backend in logs, e.g. "file:todos.json".
	Name() string
}

// lockingBackend is implemented by backends that can hold a lock visible to
// other processes.
type lockingBackend interface {
	Lock(ctx context.Context) (io.Closer, error)
}
