package storage

import (
	"context"
	"os"
	"sync"
)

// MemoryBackend keeps the document in process memory. Nothing survives a
// restart.
type MemoryBackend struct {
	mu      sync.Mutex
	data    []byte
	written bool
}

// NewMemoryBackend returns an empty backend. A nil seed means the document
// does not exist yet.
func NewMemoryBackend(seed []byte) *MemoryBackend {
	b := &MemoryBackend{}
	if seed != nil {
		b.data = append([]byte(nil), seed...)
		b.written = true
	}

	return b
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Read(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.written {
		return nil, os.ErrNotExist
	}

	return append([]byte(nil), b.data...), nil
}

func (b *MemoryBackend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append([]byte(nil), data...)
	b.written = true

	return nil
}

// Bytes returns a copy of the current document, or nil if never written.
func (b *MemoryBackend) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.written {
		return nil
	}

	return append([]byte(nil), b.data...)
}
