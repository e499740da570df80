package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ligustah/chunkline/internal/jobs"
	"github.com/ligustah/chunkline/internal/progress"
)

// runCount prints the line and byte totals of an input, the numbers the
// run command sizes its progress with.
func runCount(args []string) int {
	fs := flag.NewFlagSet("count", flag.ContinueOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	input := fs.String("input", "", "Input location (or first argument)")
	encoding := fs.String("encoding", "", "Input encoding (default utf-8)")
	keepEmpty := fs.Bool("keep-empty-lines", false, "Count blank lines too")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: chunkline count [options] [input]

Count the lines and bytes of an input.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *input != "" {
		cfg.Input = *input
	} else if fs.NArg() > 0 {
		cfg.Input = fs.Arg(0)
	}
	if *encoding != "" {
		cfg.Encoding = *encoding
	}
	if visited(fs)["keep-empty-lines"] {
		cfg.IgnoreEmptyLines = !*keepEmpty
	}

	if cfg.Input == "" {
		fmt.Fprintln(os.Stderr, "Error: an input is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	totals, err := jobs.Count(ctx, cfg.Input, jobs.ReaderOptions(cfg, logger.Logger)...)
	if err != nil {
		logger.Error("count failed", "input", cfg.Input, "error", err)
		if ctx.Err() != nil {
			return ExitInterrupted
		}
		return exitCode(err)
	}

	fmt.Fprintf(stdout, "%d lines\t%d bytes (%s)\t%s\n",
		totals.Lines, totals.Bytes, progress.FormatBytes(totals.Bytes), cfg.Input)
	return ExitSuccess
}
