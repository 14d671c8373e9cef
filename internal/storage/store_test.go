package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/todo-api/internal/fs"
	"github.com/calvinalkan/todo-api/internal/storage"
	"github.com/calvinalkan/todo-api/internal/todo"
)

func newFileStore(t *testing.T, fsys fs.FS, opts storage.Options) (*storage.Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "todos.json")

	backend, err := storage.NewFileBackend(fsys, path)
	require.NoError(t, err)

	return storage.New(backend, nil, opts), path
}

func Test_Load_Returns_Empty_When_File_Missing(t *testing.T) {
	t.Parallel()

	store, _ := newFileStore(t, fs.NewReal(), storage.Options{StrictLoad: true})

	c, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Empty(t, c)
}

func Test_Load_Treats_Corrupt_File_As_Empty_And_Warns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "todos.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "an array"`), 0o644))

	backend, err := storage.NewFileBackend(fs.NewReal(), path)
	require.NoError(t, err)

	log, hook := logtest.NewNullLogger()
	store := storage.New(backend, log, storage.Options{})

	c, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, c)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func Test_Load_Returns_ErrCorrupt_When_Strict(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "todos.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "one"}]`), 0o644))

	backend, err := storage.NewFileBackend(fs.NewReal(), path)
	require.NoError(t, err)

	store := storage.New(backend, nil, storage.Options{StrictLoad: true})

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, storage.ErrCorrupt)
}

func Test_Load_Surfaces_Read_Errors_Only_When_Strict(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{ReadFailRate: 1})

	lenient, _ := newFileStore(t, chaos, storage.Options{})
	c, err := lenient.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, c)

	strict, _ := newFileStore(t, chaos, storage.Options{StrictLoad: true})
	_, err = strict.Load(context.Background())
	require.Error(t, err)
	assert.True(t, fs.IsInjected(err))
}

func Test_Load_Treats_Blank_File_As_Empty_Even_When_Strict(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "todos.json")
	require.NoError(t, os.WriteFile(path, []byte(" \n"), 0o644))

	backend, err := storage.NewFileBackend(fs.NewReal(), path)
	require.NoError(t, err)

	c, err := storage.New(backend, nil, storage.Options{StrictLoad: true}).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, c)
}

func Test_Save_Writes_Indented_Array(t *testing.T) {
	t.Parallel()

	store, path := newFileStore(t, fs.NewReal(), storage.Options{})

	err := store.Save(context.Background(), []todo.Record{{ID: 1, Title: "Buy milk"}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	want := "[\n  {\n    \"id\": 1,\n    \"title\": \"Buy milk\",\n    \"completed\": false\n  }\n]"
	assert.Equal(t, want, string(data))
}

func Test_Save_Encodes_Nil_Collection_As_Empty_Array(t *testing.T) {
	t.Parallel()

	data, err := storage.Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func Test_Save_Creates_Missing_Parent_Directory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "todos.json")

	backend, err := storage.NewFileBackend(fs.NewReal(), path)
	require.NoError(t, err)

	require.NoError(t, storage.New(backend, nil, storage.Options{}).Save(context.Background(), nil))

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func Test_Save_Wraps_ErrSave_And_Reports_To_OnSave(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 7, fs.ChaosConfig{WriteFailRate: 1})

	var results []error

	store, path := newFileStore(t, chaos, storage.Options{
		OnSave: func(err error) { results = append(results, err) },
	})

	err := store.Save(context.Background(), []todo.Record{{ID: 1}})
	require.ErrorIs(t, err, storage.ErrSave)
	assert.True(t, fs.IsInjected(err))

	require.Len(t, results, 1)
	require.ErrorIs(t, results[0], storage.ErrSave)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "failed save must not leave a file behind")
}

func Test_Save_Fails_When_Data_Directory_Cannot_Be_Created(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 3, fs.ChaosConfig{MkdirFailRate: 1})
	store, path := newFileStore(t, chaos, storage.Options{})

	err := store.Save(context.Background(), []todo.Record{{ID: 1}})
	require.ErrorIs(t, err, storage.ErrSave)
	assert.True(t, fs.IsInjected(err))
	assert.Equal(t, int64(1), chaos.Stats().MkdirFails)
	assert.Equal(t, int64(0), chaos.Stats().WriteFails)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func Test_Save_Then_Load_Round_Trips_Content_And_Order(t *testing.T) {
	t.Parallel()

	store, path := newFileStore(t, fs.NewReal(), storage.Options{})

	want := []todo.Record{
		{ID: 3, Title: "c", Completed: true},
		{ID: 1, Title: "a"},
		{ID: 2, Title: "b \"quoted\" ünïcode"},
	}
	require.NoError(t, store.Save(context.Background(), want))

	// Fresh store over the same path, as after a restart.
	backend, err := storage.NewFileBackend(fs.NewReal(), path)
	require.NoError(t, err)

	got, err := storage.New(backend, nil, storage.Options{}).Load(context.Background())
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("collection mismatch (-want +got):\n%s", diff)
	}
}

func Test_Update_Skips_Save_When_Unchanged(t *testing.T) {
	t.Parallel()

	saves := 0
	store, path := newFileStore(t, fs.NewReal(), storage.Options{OnSave: func(error) { saves++ }})

	_, err := store.Update(context.Background(), func(c []todo.Record) ([]todo.Record, bool, error) {
		return c, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, saves)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func Test_Update_Returns_Mutation_Error_Without_Saving(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	saves := 0
	store, _ := newFileStore(t, fs.NewReal(), storage.Options{OnSave: func(error) { saves++ }})

	_, err := store.Update(context.Background(), func(c []todo.Record) ([]todo.Record, bool, error) {
		return todo.Insert(c, todo.Record{ID: 1, Title: "x"}), true, errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, saves)
}

func Test_Update_Fails_When_Strict_Load_Fails(t *testing.T) {
	t.Parallel()

	backend := storage.NewMemoryBackend([]byte("garbage"))
	store := storage.New(backend, nil, storage.Options{StrictLoad: true})

	called := false

	_, err := store.Update(context.Background(), func(c []todo.Record) ([]todo.Record, bool, error) {
		called = true

		return c, true, nil
	})
	require.ErrorIs(t, err, storage.ErrCorrupt)
	assert.False(t, called)
	assert.Equal(t, []byte("garbage"), backend.Bytes())
}

// interleave runs two Update cycles where the second loads while the first
// is between its load and its save.
func interleave(t *testing.T, store *storage.Store, serialized bool) {
	t.Helper()

	ctx := context.Background()
	loaded := make(chan struct{})
	proceed := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, err := store.Update(ctx, func(c []todo.Record) ([]todo.Record, bool, error) {
			close(loaded)
			<-proceed

			idx, _ := todo.FindByID(c, 1)
			todo.Apply(&c[idx], todo.Patch{Completed: ptr(true)})

			return c, true, nil
		})
		assert.NoError(t, err)
	}()

	<-loaded

	renamed := make(chan struct{})

	go func() {
		defer close(renamed)

		_, err := store.Update(ctx, func(c []todo.Record) ([]todo.Record, bool, error) {
			idx, _ := todo.FindByID(c, 1)
			todo.Apply(&c[idx], todo.Patch{Title: ptr("renamed")})

			return c, true, nil
		})
		assert.NoError(t, err)
	}()

	if !serialized {
		// Let the second cycle finish entirely before the first saves.
		<-renamed
	} else {
		time.Sleep(20 * time.Millisecond)
	}

	close(proceed)
	wg.Wait()
	<-renamed
}

func Test_Update_Loses_Concurrent_Update_When_Not_Serialized(t *testing.T) {
	t.Parallel()

	store, _ := newFileStore(t, fs.NewReal(), storage.Options{})
	require.NoError(t, store.Save(context.Background(), []todo.Record{{ID: 1, Title: "original"}}))

	interleave(t, store, false)

	got, err := store.Load(context.Background())
	require.NoError(t, err)

	// The first writer saved last and never saw the rename.
	want := []todo.Record{{ID: 1, Title: "original", Completed: true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("collection mismatch (-want +got):\n%s", diff)
	}
}

func Test_Update_Keeps_Both_Updates_When_Serialized(t *testing.T) {
	t.Parallel()

	store, _ := newFileStore(t, fs.NewReal(), storage.Options{Serialize: true})
	require.NoError(t, store.Save(context.Background(), []todo.Record{{ID: 1, Title: "original"}}))

	interleave(t, store, true)

	got, err := store.Load(context.Background())
	require.NoError(t, err)

	want := []todo.Record{{ID: 1, Title: "renamed", Completed: true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("collection mismatch (-want +got):\n%s", diff)
	}
}

func Test_Update_Fails_When_Lock_Cannot_Be_Taken(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{LockFailRate: 1})
	store, _ := newFileStore(t, chaos, storage.Options{Serialize: true})

	_, err := store.Update(context.Background(), func(c []todo.Record) ([]todo.Record, bool, error) {
		t.Fatal("mutation ran without the lock")

		return c, false, nil
	})
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func Test_Open_Selects_Backend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	file, err := storage.Open(ctx, storage.OpenConfig{Backend: storage.BackendFile, DataFile: "todos.json"})
	require.NoError(t, err)
	assert.Equal(t, "file:todos.json", file.Name())

	mem, err := storage.Open(ctx, storage.OpenConfig{Backend: storage.BackendMemory})
	require.NoError(t, err)
	assert.Equal(t, "memory", mem.Name())

	_, err = storage.Open(ctx, storage.OpenConfig{Backend: "tape"})
	require.ErrorIs(t, err, storage.ErrUnknownBackend)

	_, err = storage.Open(ctx, storage.OpenConfig{Backend: storage.BackendFile})
	require.Error(t, err)
}

func ptr[T any](v T) *T {
	return &v
}
