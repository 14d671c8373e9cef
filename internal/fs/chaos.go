package fs

import (
	"errors"
	iofs "io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	ReadFailRate  float64 // Fail ReadFile
	WriteFailRate float64 // Fail WriteFileAtomic (target left untouched)
	MkdirFailRate float64 // Fail MkdirAll
	LockFailRate  float64 // Fail Lock acquisition
}

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModePassthrough behaves like the underlying FS.
	ChaosModePassthrough ChaosMode = iota

	// ChaosModeInject enables fault-rate injection.
	ChaosModeInject
)

// ChaosStats counts injected faults per operation.
type ChaosStats struct {
	ReadFails  int64
	WriteFails int64
	MkdirFails int64
	LockFails  int64
}

// Chaos wraps an [FS] and injects failures according to [ChaosConfig].
//
// Injected failures never modify the underlying filesystem, so a failed
// WriteFileAtomic leaves the previous content in place, matching what an
// atomic rename guarantees on a real crash. Use [IsInjected] to tell
// injected errors from real ones.
//
// Chaos starts in [ChaosModeInject]. It is safe for concurrent use.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	mu  sync.Mutex
	rng *rand.Rand

	readFails  atomic.Int64
	writeFails atomic.Int64
	mkdirFails atomic.Int64
	lockFails  atomic.Int64
}

// NewChaos wraps fs with fault injection driven by seed.
// Panics if fs is nil.
func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	if fs == nil {
		panic("fs is nil")
	}

	c := &Chaos{
		fs:     fs,
		config: config,
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic test faults
	}
	c.mode.Store(uint32(ChaosModeInject))

	return c
}

// SetMode switches between passthrough and injection.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns a snapshot of injected fault counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		ReadFails:  c.readFails.Load(),
		WriteFails: c.writeFails.Load(),
		MkdirFails: c.mkdirFails.Load(),
		LockFails:  c.lockFails.Load(),
	}
}

// TotalFaults returns the sum of all injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.ReadFails + s.WriteFails + s.MkdirFails + s.LockFails
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, injectedPathError("read", path, syscall.EIO)
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return injectedPathError("write", path, c.pick(syscall.EIO, syscall.ENOSPC, syscall.EROFS))
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.should(c.config.MkdirFailRate) {
		c.mkdirFails.Add(1)

		return injectedPathError("mkdir", path, syscall.EACCES)
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Lock(path string) (Locker, error) {
	if c.should(c.config.LockFailRate) {
		c.lockFails.Add(1)

		return nil, &InjectedError{Err: os.ErrDeadlineExceeded}
	}

	return c.fs.Lock(path)
}

func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) != ChaosModeInject || rate <= 0 {
		return false
	}

	if rate >= 1 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) pick(errs ...syscall.Errno) syscall.Errno {
	c.mu.Lock()
	defer c.mu.Unlock()

	return errs[c.rng.Intn(len(errs))]
}

// InjectedError marks an error as intentionally injected by [Chaos].
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Err error
}

func (e *InjectedError) Error() string { return "injected: " + e.Err.Error() }

func (e *InjectedError) Unwrap() error { return e.Err }

// IsInjected reports whether err (or any wrapped error) was injected by [Chaos].
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

// injectedPathError wraps a *fs.PathError so os.IsNotExist/os.IsPermission
// style checks still see the errno.
func injectedPathError(op, path string, errno syscall.Errno) error {
	return &InjectedError{Err: &iofs.PathError{Op: op, Path: path, Err: errno}}
}

var _ FS = (*Chaos)(nil)
