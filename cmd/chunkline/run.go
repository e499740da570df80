package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ligustah/chunkline/internal/config"
	"github.com/ligustah/chunkline/internal/jobs"
	"github.com/ligustah/chunkline/internal/progress"
	"github.com/ligustah/chunkline/pkg/batch"
)

// runExtract processes an input with the extract job. Configuration is
// layered: defaults, -config file, CHUNKLINE_ environment, flags.
func runExtract(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	input := fs.String("input", "", "Input location (required)")
	output := fs.String("output", "", "Result file location (required)")
	encoding := fs.String("encoding", "", "Input encoding (default utf-8)")
	sectionSize := fs.Int("section-size", 0, "Lines claimed by a worker at a time (default 1000)")
	keepEmpty := fs.Bool("keep-empty-lines", false, "Process blank lines instead of skipping them")
	workers := fs.Int("workers", 0, "Number of concurrent workers (default 4)")
	fields := fs.String("fields", "", "Comma-separated field indexes to extract, e.g. 0,2 (default whole line)")
	separator := fs.String("separator", "", `Input field separator regexp (default \s+)`)
	outSeparator := fs.String("output-separator", "", "Output field separator (default tab)")
	readRetries := fs.Int("read-retries", 0, "Retries per failed read (default 1)")
	readDelay := fs.Duration("read-delay", 0, "Delay between read retries (default 1s)")
	bufferSize := fs.String("buffer-size", "", "Read buffer size, e.g. 1MiB (default 64KiB)")
	cooldownAfter := fs.Int("cooldown-after", 0, "Pause reading every N lines (0 disables)")
	cooldown := fs.Duration("cooldown", 0, "Length of each reading pause")
	skipLimit := fs.Int("skip-limit", 0, "Stop after this many malformed lines (0 disables)")
	policy := fs.String("progress", "", "Progress unit: lines or bytes (default lines)")
	statusInterval := fs.Duration("status-interval", 0, "Status log interval (default 30s)")
	runID := fs.String("run-id", "", "Run identifier for logs (default random UUID)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "Log format: text or json")
	logFile := fs.String("log-file", "", "Also append logs to this file")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: chunkline run [options]

Read a large text file section by section with parallel workers and write
the selected fields of every line to a result file. Failed reads resume at
the last consumed byte.

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

	override := config.Config{
		Input:          *input,
		Output:         *output,
		Encoding:       *encoding,
		SectionSize:    *sectionSize,
		Workers:        *workers,
		StatusInterval: *statusInterval,
		Read: config.ReadConfig{
			Delay: *readDelay,
		},
		Cooldown: config.CooldownConfig{
			Duration: *cooldown,
		},
		ProgressPolicy: *policy,
		Extract: config.ExtractConfig{
			Separator:       *separator,
			OutputSeparator: *outSeparator,
		},
		Log: config.LogConfig{
			Level:  *logLevel,
			Format: *logFormat,
			File:   *logFile,
		},
	}
	if *fields != "" {
		if override.Extract.Fields, err = config.ParseFields(*fields); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -fields: %v\n", err)
			return ExitInvalidArgs
		}
	}
	if *bufferSize != "" {
		if override.Read.BufferSize, err = progress.ParseBytes(*bufferSize); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -buffer-size: %v\n", err)
			return ExitInvalidArgs
		}
	}
	cfg = cfg.Merge(override)

	// Explicit zeros and booleans bypass Merge.
	set := visited(fs)
	if set["keep-empty-lines"] {
		cfg.IgnoreEmptyLines = !*keepEmpty
	}
	if set["read-retries"] {
		cfg.Read.Retries = *readRetries
	}
	if set["cooldown-after"] {
		cfg.Cooldown.AfterLines = *cooldownAfter
	}
	if set["skip-limit"] {
		cfg.SkipLimit = *skipLimit
	}

	if cfg.Input == "" || cfg.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: -input and -output are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	job, err := jobs.NewExtract(cfg)
	if err != nil {
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

	summary, err := job.Run(ctx, logger.Logger, *runID)
	if err != nil {
		logger.Error("run failed", "error", err)
	}
	if summary != nil {
		printSummary(summary)
	}
	return runExitCode(ctx, summary, err)
}

// runExitCode maps the outcome of a run. An interrupt wins over the errors it
// caused.
func runExitCode(ctx context.Context, summary *batch.Summary, err error) int {
	switch {
	case ctx.Err() != nil:
		return ExitInterrupted
	case errors.Is(err, jobs.ErrOutput):
		return ExitOutputError
	case err != nil:
		return exitCode(err)
	case summary.Failed():
		return ExitBatchFailed
	default:
		return ExitSuccess
	}
}

func printSummary(s *batch.Summary) {
	fmt.Fprintf(stdout, "run %s: %d lines processed (%.2f%%), %d recoverable, %d fatal errors in %s\n",
		s.RunID, s.Lines, s.Percentage, s.Recoverable, s.Fatal, progress.FormatDuration(s.Elapsed))
	for _, w := range s.Workers {
		fmt.Fprintf(stdout, "  %s: %s, %d sections, %d lines\n", w.Name, w.Status, w.Sections, w.Lines)
	}
}
