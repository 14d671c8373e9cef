// Package server implements the todod command: flag parsing, configuration,
// logging and the HTTP server lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/todo-api/internal/api"
	"github.com/calvinalkan/todo-api/internal/config"
	"github.com/calvinalkan/todo-api/internal/metrics"
	"github.com/calvinalkan/todo-api/internal/storage"
)

const (
	cmdServe       = "serve"
	cmdPrintConfig = "print-config"

	readHeaderTimeout = 10 * time.Second
)

var errUnknownCommand = errors.New("unknown command")

// Run is the main entry point. Returns exit code.
//
// The server stops gracefully when a signal arrives on sigCh. A nil sigCh
// means the server only stops on error.
func Run(out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	flags, overrides := newFlagSet()
	flags.SetOutput(&strings.Builder{}) // discard pflag output

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

		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, flags)

		return 1
	}

	cmd := cmdServe
	if flags.NArg() > 0 {
		cmd = flags.Arg(0)
	}

	if cmd != cmdServe && cmd != cmdPrintConfig {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", errUnknownCommand, cmd))
		printUsage(errOut, flags)

		return 1
	}

	workDir, _ := flags.GetString("cwd")
	configPath, _ := flags.GetString("config")

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: workDir,
		ConfigPath:      configPath,
		Overrides:       overrides(),
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if cmd == cmdPrintConfig {
		return printConfig(out, errOut, cfg)
	}

	log := config.NewLogger(cfg, errOut)

	err = serve(cfg, log, sigCh)
	if err != nil {
		log.WithError(err).Error("Server stopped")

		return 1
	}

	return 0
}

// newFlagSet defines the global flags. The returned function collects the
// flags that were set on the command line as config overrides.
func newFlagSet() (*flag.FlagSet, func() config.Overrides) {
	flags := flag.NewFlagSet("todod", flag.ContinueOnError)

	flags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flags.StringP("config", "c", "", "Use specified config `file`")
	addr := flags.String("addr", "", "Listen address (host:port)")
	dataFile := flags.String("data-file", "", "Path of the JSON collection file")
	backend := flags.String("backend", "", "Storage backend: file|s3|memory")
	serialize := flags.Bool("serialize", false, "Serialize load-mutate-save cycles with a lock")
	strictLoad := flags.Bool("strict-load", false, "Fail requests when the collection cannot be read or decoded")
	logLevel := flags.String("log-level", "", "Log level (debug|info|warn|error)")
	logFormat := flags.String("log-format", "", "Log format (text|json)")

	overrides := func() config.Overrides {
		var o config.Overrides

		if flags.Changed("addr") {
			o.Addr = addr
		}

		if flags.Changed("data-file") {
			o.DataFile = dataFile
		}

		if flags.Changed("backend") {
			o.Backend = backend
		}

		if flags.Changed("serialize") {
			o.Serialize = serialize
		}

		if flags.Changed("strict-load") {
			o.StrictLoad = strictLoad
		}

		if flags.Changed("log-level") {
			o.LogLevel = logLevel
		}

		if flags.Changed("log-format") {
			o.LogFormat = logFormat
		}

		return o
	}

	return flags, overrides
}

// NewHandler wires store, metrics and routes for cfg.
func NewHandler(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (http.Handler, error) {
	m := metrics.New()

	store, err := storage.OpenStore(ctx, cfg.Storage(), log, cfg.StoreOptions(m.ObserveSave))
	if err != nil {
		return nil, err
	}

	return api.New(store, log, m), nil
}

func serve(cfg config.Config, log *logrus.Logger, sigCh <-chan os.Signal) error {
	handler, err := NewHandler(context.Background(), cfg, log)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	return Serve(ln, handler, log, sigCh, cfg.Shutdown)
}

// Serve answers requests on ln until a signal arrives on sigCh, then shuts
// down, giving in-flight requests up to timeout to finish.
func Serve(ln net.Listener, handler http.Handler, log logrus.FieldLogger, sigCh <-chan os.Signal, timeout time.Duration) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.WithField("addr", ln.Addr().String()).Info("Listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	<-errCh // http.ErrServerClosed

	return nil
}

func printConfig(out, errOut io.Writer, cfg config.Config) int {
	formatted, err := config.Format(cfg)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	fprintln(out, formatted)
	fprintln(out)
	fprintln(out, "# Sources:")

	if cfg.Sources.Global != "" {
		fprintln(out, "#   global:", cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		fprintln(out, "#   project:", cfg.Sources.Project)
	}

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		fprintln(out, "#   (using defaults only)")
	}

	return 0
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fprintln(w, `todod - todo collection HTTP service

Usage: todod [options] [command]

Commands:
  serve                  Serve the HTTP API (default)
  print-config           Show resolved configuration

Options:`)
	fprintln(w, flags.FlagUsages())
}
