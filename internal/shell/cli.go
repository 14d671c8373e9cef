package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/todo-api/internal/config"
	"github.com/calvinalkan/todo-api/internal/storage"
)

const historyFileName = ".todoctl_history"

// Main is the todoctl entry point. Returns exit code.
//
// With -e, each value is executed as a command and the shell exits without
// prompting.
func Main(out io.Writer, errOut io.Writer, args []string, env map[string]string) int {
	flags := flag.NewFlagSet("todoctl", flag.ContinueOnError)
	flags.SetOutput(&strings.Builder{})

	workDir := flags.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := flags.StringP("config", "c", "", "Use specified config `file`")
	backend := flags.String("backend", "", "Storage backend: file|s3|memory")
	serialize := flags.Bool("serialize", false, "Lock the collection for each change")
	execs := flags.StringArrayP("exec", "e", nil, "Execute `command` and exit (repeatable)")

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	err := flags.Parse(rest)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, flags)

			return 0
		}

		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, flags)

		return 1
	}

	var overrides config.Overrides

	if flags.NArg() > 0 {
		dataFile := flags.Arg(0)
		overrides.DataFile = &dataFile
	}

	if flags.Changed("backend") {
		overrides.Backend = backend
	}

	if flags.Changed("serialize") {
		overrides.Serialize = serialize
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: *workDir,
		ConfigPath:      *configPath,
		Overrides:       overrides,
		Env:             env,
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	ctx := context.Background()

	store, err := storage.OpenStore(ctx, cfg.Storage(), config.NewLogger(cfg, errOut), cfg.StoreOptions(nil))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	sh := New(store, out)

	if len(*execs) > 0 {
		for _, cmd := range *execs {
			quit, err := sh.Exec(ctx, cmd)
			if err != nil {
				fmt.Fprintln(errOut, "error:", err)

				return 1
			}

			if quit {
				break
			}
		}

		return 0
	}

	err = sh.Run(ctx, historyPath(env))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	return 0
}

func historyPath(env map[string]string) string {
	home := env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, historyFileName)
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(w, `todoctl - interactive editor for the todo collection

Usage: todoctl [options] [data-file]

Options:`)
	fmt.Fprintln(w, flags.FlagUsages())
}
