package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ligustah/chunkline/internal/config"
	"github.com/ligustah/chunkline/internal/logging"
	"github.com/ligustah/chunkline/pkg/batch"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitInvalidArgs   = 2
	ExitInputNotFound = 3
	ExitInputError    = 4
	ExitOutputError   = 5
	ExitBatchFailed   = 6
	ExitInterrupted   = 130
)

// stdout receives command results. Logs go to stderr.
var stdout io.Writer = os.Stdout

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "run":
		return runExtract(cmdArgs)
	case "count":
		return runCount(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: chunkline <command> [options]

Commands:
  run      Extract fields from every line of a large text file in parallel
  count    Print the number of lines and bytes of an input

Inputs and outputs are local paths, file://, s3:// or gs:// URLs.
Inputs may also be http(s) URLs served with range support.

Run 'chunkline <command> -h' for command-specific help.`)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[chunkline] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// loadConfig layers defaults, the optional config file and the environment.
// Flags are applied by the caller.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*logging.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
}

// visited returns the names of the flags set on the command line.
func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// exitCode maps a setup error to an exit code.
func exitCode(err error) int {
	if errors.Is(err, batch.ErrSourceNotFound) {
		return ExitInputNotFound
	}
	var be *batch.Error
	if !errors.As(err, &be) {
		return ExitGeneralError
	}
	switch be.Code {
	case batch.CodeNotFound:
		return ExitInputNotFound
	case batch.CodeOpenFailed, batch.CodeReadFailed:
		return ExitInputError
	case batch.CodeCancelled:
		return ExitInterrupted
	default:
		return ExitGeneralError
	}
}
