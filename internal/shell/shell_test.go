package shell_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/todo-api/internal/shell"
	"github.com/calvinalkan/todo-api/internal/storage"
	"github.com/calvinalkan/todo-api/internal/todo"
)

func newShell(t *testing.T) (*shell.Shell, *storage.Store, *bytes.Buffer) {
	t.Helper()

	store := storage.New(storage.NewMemoryBackend(nil), nil, storage.Options{})

	var out bytes.Buffer

	return shell.New(store, &out), store, &out
}

func exec(t *testing.T, sh *shell.Shell, lines ...string) {
	t.Helper()

	for _, line := range lines {
		quit, err := sh.Exec(t.Context(), line)
		require.NoError(t, err, line)
		require.False(t, quit, line)
	}
}

func Test_Shell_Edits_Collection_When_Commands_Run(t *testing.T) {
	t.Parallel()

	sh, store, out := newShell(t)

	exec(t, sh,
		"add Buy milk",
		"add  Walk the dog ",
		"add Call mom",
		"done 1",
		"rename 2 Walk the cat",
		"rm 3",
	)

	got, err := store.Load(t.Context())
	require.NoError(t, err)

	want := []todo.Record{
		{ID: 1, Title: "Buy milk", Completed: true},
		{ID: 2, Title: "Walk the cat"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("collection mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "Added todo with ID 1\n"+
		"Added todo with ID 2\n"+
		"Added todo with ID 3\n"+
		"Updated todo with ID 1: {title: <unset>, completed: true}\n"+
		"Updated todo with ID 2: {title: \"Walk the cat\", completed: <unset>}\n"+
		"Deleted todo with ID 3\n", out.String())
}

func Test_Shell_Lists_Todos_When_Ls_Run(t *testing.T) {
	t.Parallel()

	sh, _, out := newShell(t)

	exec(t, sh, "ls")
	assert.Equal(t, "(no todos)\n", out.String())

	exec(t, sh, "add a", "add b", "done 2")
	out.Reset()

	exec(t, sh, "LS")
	assert.Equal(t, "   1 [ ] a\n   2 [x] b\n", out.String())
}

func Test_Shell_Reports_Not_Found_When_Id_Unknown(t *testing.T) {
	t.Parallel()

	sh, store, out := newShell(t)

	exec(t, sh, "add a")
	before := store.Backend().(*storage.MemoryBackend).Bytes()
	out.Reset()

	exec(t, sh, "done 9", "undo 9", "rename 9 x", "rm 9")

	assert.Equal(t, "Todo not found\nTodo not found\nTodo not found\nTodo not found\n", out.String())
	assert.Equal(t, before, store.Backend().(*storage.MemoryBackend).Bytes())
}

func Test_Shell_Prints_Usage_When_Arguments_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want string
	}{
		{line: "add", want: "Usage: add <title>\n"},
		{line: "done", want: "Usage: done|undo <id>\n"},
		{line: "undo -1", want: "Usage: done|undo <id>\n"},
		{line: "rename 1", want: "Usage: rename <id> <title>\n"},
		{line: "rename x y", want: "Usage: rename <id> <title>\n"},
		{line: "rm abc", want: "Usage: rm <id>\n"},
		{line: "frob", want: "Unknown command: frob (type 'help' for commands)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()

			sh, _, out := newShell(t)
			exec(t, sh, tt.line)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func Test_Shell_Quits_When_Exit_Run(t *testing.T) {
	t.Parallel()

	sh, _, _ := newShell(t)

	for _, line := range []string{"exit", "quit", "q"} {
		quit, err := sh.Exec(t.Context(), line)
		require.NoError(t, err)
		assert.True(t, quit, line)
	}
}

func Test_Shell_Completes_Command_Names(t *testing.T) {
	t.Parallel()

	sh, _, _ := newShell(t)

	assert.Equal(t, []string{"rename", "rm"}, sh.Complete("r"))
	assert.Equal(t, []string{"done"}, sh.Complete("DO"))
	assert.Nil(t, sh.Complete("zzz"))
}

func Test_Shell_Returns_Error_When_Strict_Load_Fails(t *testing.T) {
	t.Parallel()

	store := storage.New(storage.NewMemoryBackend([]byte("{not json")), nil, storage.Options{StrictLoad: true})

	var out bytes.Buffer

	sh := shell.New(store, &out)

	_, err := sh.Exec(t.Context(), "ls")
	require.ErrorIs(t, err, storage.ErrCorrupt)
}

func Test_Main_Executes_Commands_Against_Data_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	env := map[string]string{"XDG_CONFIG_HOME": filepath.Join(dir, "xdg")}

	var stdout, stderr bytes.Buffer

	code := shell.Main(&stdout, &stderr, []string{
		"todoctl", "-C", dir, "--serialize",
		"-e", "add Buy milk", "-e", "ls", "-e", "exit", "-e", "add never",
		"list.json",
	}, env)

	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "Added todo with ID 1\n   1 [ ] Buy milk\n", stdout.String())

	data, err := os.ReadFile(filepath.Join(dir, "list.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"title":"Buy milk","completed":false}]`, string(data))
}

func Test_Main_Fails_When_Config_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var stdout, stderr bytes.Buffer

	code := shell.Main(&stdout, &stderr, []string{"todoctl", "-C", dir, "--backend", "tape"}, nil)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown backend")
}

func Test_Main_Prints_Help(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	code := shell.Main(&stdout, &stderr, []string{"todoctl", "--help"}, nil)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "Usage: todoctl [options] [data-file]")
	assert.Contains(t, stdout.String(), "--exec")
}

func Test_Shell_Refuses_Add_When_Max_Id_Is_Taken(t *testing.T) {
	t.Parallel()

	seed := []byte(`[{"id":18446744073709551615,"title":"last","completed":false}]`)
	backend := storage.NewMemoryBackend(seed)

	var out bytes.Buffer

	sh := shell.New(storage.New(backend, nil, storage.Options{}), &out)
	exec(t, sh, "add overflow")

	assert.Equal(t, "No todo id available\n", out.String())
	assert.Equal(t, seed, backend.Bytes())
}
