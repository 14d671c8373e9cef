package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/todo-api/internal/todo"
)

// Options configures a [Store].
type Options struct {
	// StrictLoad surfaces read and decode failures instead of treating them
	// as an empty collection.
	StrictLoad bool

	// Serialize runs each Update under a process mutex and, when the backend
	// supports it, a cross-process lock. Without it concurrent cycles race and
	// the last save wins.
	Serialize bool

	// OnSave is called after every save attempt with its result. Optional.
	OnSave func(err error)
}

// Mutation changes a collection in place or returns a new one. It reports
// whether anything changed; unchanged collections are not written back.
type Mutation func(c []todo.Record) ([]todo.Record, bool, error)

// Store loads and saves the whole collection through a [Backend].
//
// No collection state is kept between calls: every Load reads the backend.
type Store struct {
	backend Backend
	log     logrus.FieldLogger
	opts    Options

	mu sync.Mutex
}

// New returns a store over backend. A nil log discards output.
func New(backend Backend, log logrus.FieldLogger, opts Options) *Store {
	if backend == nil {
		panic("backend is nil")
	}

	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	return &Store{backend: backend, log: log, opts: opts}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Load reads and decodes the collection.
//
// A missing document is an empty collection. Other read errors and
// undecodable content are also an empty collection unless StrictLoad is set,
// in which case they are returned (decode failures wrap [ErrCorrupt]).
func (s *Store) Load(ctx context.Context) ([]todo.Record, error) {
	data, err := s.backend.Read(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []todo.Record{}, nil
		}

		if s.opts.StrictLoad {
			return nil, fmt.Errorf("load collection: %w", err)
		}

		s.log.WithError(err).WithField("backend", s.backend.Name()).
			Warn("Unreadable collection treated as empty")

		return []todo.Record{}, nil
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []todo.Record{}, nil
	}

	var c []todo.Record

	err = json.Unmarshal(data, &c)
	if err != nil {
		if s.opts.StrictLoad {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, s.backend.Name(), err)
		}

		s.log.WithError(err).WithField("backend", s.backend.Name()).
			Warn("Undecodable collection treated as empty")

		return []todo.Record{}, nil
	}

	if c == nil {
		c = []todo.Record{}
	}

	return c, nil
}

// Save encodes c as an indented JSON array and replaces the document.
// Errors wrap [ErrSave].
func (s *Store) Save(ctx context.Context, c []todo.Record) error {
	err := s.save(ctx, c)

	if s.opts.OnSave != nil {
		s.opts.OnSave(err)
	}

	return err
}

func (s *Store) save(ctx context.Context, c []todo.Record) error {
	data, err := Encode(c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}

	err = s.backend.Write(ctx, data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}

	return nil
}

// Update runs one load-mutate-save cycle and returns the resulting
// collection. Errors from mutate are returned unchanged and nothing is
// written.
func (s *Store) Update(ctx context.Context, mutate Mutation) ([]todo.Record, error) {
	if s.opts.Serialize {
		s.mu.Lock()
		defer s.mu.Unlock()

		if lb, ok := s.backend.(lockingBackend); ok {
			lock, err := lb.Lock(ctx)
			if err != nil {
				return nil, err
			}
			defer lock.Close()
		}
	}

	c, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	c, changed, err := mutate(c)
	if err != nil {
		return nil, err
	}

	if !changed {
		return c, nil
	}

	err = s.Save(ctx, c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Encode renders c the way it is persisted: a two-space indented JSON array.
// A nil collection encodes as [].
func Encode(c []todo.Record) ([]byte, error) {
	if c == nil {
		c = []todo.Record{}
	}

	return json.MarshalIndent(c, "", "  ")
}
