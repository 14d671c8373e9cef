// Package shell implements todoctl, an interactive shell that edits the todo
// collection through the same store the HTTP service uses.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/todo-api/internal/storage"
	"github.com/calvinalkan/todo-api/internal/todo"
)

const prompt = "todo> "

var commands = []string{
	"ls", "list", "add", "done", "undo", "rename",
	"rm", "del", "help", "exit", "quit", "q",
}

var errNotFound = errors.New("todo not found")

// Shell executes commands against a store and prints results to out.
type Shell struct {
	store *storage.Store
	out   io.Writer
}

// New returns a shell over store.
func New(store *storage.Store, out io.Writer) *Shell {
	return &Shell{store: store, out: out}
}

// Run reads commands from the terminal until exit, EOF or Ctrl-C. History
// is loaded from and saved to historyPath when it is non-empty.
func (s *Shell) Run(ctx context.Context, historyPath string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(s.Complete)

	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			_, _ = line.ReadHistory(f)
			_ = f.Close()
		}

		defer saveHistory(line, historyPath)
	}

	s.printf("todoctl - %s\n", s.store.Backend().Name())
	s.printf("Type 'help' for available commands.\n\n")

	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				s.printf("\nBye!\n")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		quit, err := s.Exec(ctx, input)
		if err != nil {
			s.printf("error: %v\n", err)
		}

		if quit {
			s.printf("Bye!\n")

			return nil
		}
	}
}

// Exec runs one command line. It reports whether the shell should exit.
// Usage mistakes are printed, not returned; the error is reserved for
// storage failures.
func (s *Shell) Exec(ctx context.Context, input string) (bool, error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(input), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "":
		return false, nil
	case "exit", "quit", "q":
		return true, nil
	case "help", "?":
		s.printHelp()

		return false, nil
	case "ls", "list":
		return false, s.cmdList(ctx)
	case "add":
		return false, s.cmdAdd(ctx, rest)
	case "done":
		return false, s.cmdSetCompleted(ctx, rest, true)
	case "undo":
		return false, s.cmdSetCompleted(ctx, rest, false)
	case "rename":
		return false, s.cmdRename(ctx, rest)
	case "rm", "del":
		return false, s.cmdRemove(ctx, rest)
	default:
		s.printf("Unknown command: %s (type 'help' for commands)\n", name)

		return false, nil
	}
}

// Complete provides tab completion for command names.
func (s *Shell) Complete(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (s *Shell) cmdList(ctx context.Context) error {
	c, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	if len(c) == 0 {
		s.printf("(no todos)\n")

		return nil
	}

	for _, r := range c {
		mark := " "
		if r.Completed {
			mark = "x"
		}

		s.printf("%4d [%s] %s\n", r.ID, mark, r.Title)
	}

	return nil
}

func (s *Shell) cmdAdd(ctx context.Context, title string) error {
	if title == "" {
		s.printf("Usage: add <title>\n")

		return nil
	}

	var created todo.Record

	_, err := s.store.Update(ctx, func(c []todo.Record) ([]todo.Record, bool, error) {
		r, err := todo.New(c, title)
		if err != nil {
			return nil, false, err
		}

		created = r

		return todo.Insert(c, created), true, nil
	})
	if errors.Is(err, todo.ErrIDSpaceExhausted) {
		s.printf("No todo id available\n")

		return nil
	}

	if err != nil {
		return err
	}

	s.printf("Added todo with ID %d\n", created.ID)

	return nil
}

func (s *Shell) cmdSetCompleted(ctx context.Context, args string, completed bool) error {
	id, ok := parseID(args)
	if !ok {
		s.printf("Usage: done|undo <id>\n")

		return nil
	}

	return s.patch(ctx, id, todo.Patch{Completed: &completed})
}

func (s *Shell) cmdRename(ctx context.Context, args string) error {
	idStr, title, _ := strings.Cut(args, " ")
	title = strings.TrimSpace(title)

	id, ok := parseID(idStr)
	if !ok || title == "" {
		s.printf("Usage: rename <id> <title>\n")

		return nil
	}

	return s.patch(ctx, id, todo.Patch{Title: &title})
}

func (s *Shell) patch(ctx context.Context, id uint64, p todo.Patch) error {
	_, err := s.store.Update(ctx, func(c []todo.Record) ([]todo.Record, bool, error) {
		i, ok := todo.FindByID(c, id)
		if !ok {
			return nil, false, errNotFound
		}

		todo.Apply(&c[i], p)

		return c, true, nil
	})

	switch {
	case errors.Is(err, errNotFound):
		s.printf("Todo not found\n")
	case err != nil:
		return err
	default:
		s.printf("Updated todo with ID %d: %s\n", id, p)
	}

	return nil
}

func (s *Shell) cmdRemove(ctx context.Context, args string) error {
	id, ok := parseID(args)
	if !ok {
		s.printf("Usage: rm <id>\n")

		return nil
	}

	_, err := s.store.Update(ctx, func(c []todo.Record) ([]todo.Record, bool, error) {
		c, removed := todo.RemoveByID(c, id)
		if !removed {
			return nil, false, errNotFound
		}

		return c, true, nil
	})

	switch {
	case errors.Is(err, errNotFound):
		s.printf("Todo not found\n")
	case err != nil:
		return err
	default:
		s.printf("Deleted todo with ID %d\n", id)
	}

	return nil
}

func (s *Shell) printHelp() {
	s.printf(`Commands:
  ls                     List all todos
  add <title>            Create a todo
  done <id>              Mark a todo completed
  undo <id>              Mark a todo not completed
  rename <id> <title>    Change a todo's title
  rm <id>                Delete a todo
  help                   Show this help
  exit / quit / q        Exit
`)
}

func (s *Shell) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func parseID(s string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)

	return id, err == nil
}

func saveHistory(line *liner.State, path string) {
	f, err := os.Create(path)
	if err != nil {
		return
	}

	_, _ = line.WriteHistory(f)
	_ = f.Close()
}
