package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ligustah/chunkline/internal/config"
	"github.com/ligustah/chunkline/internal/progress"
	"github.com/ligustah/chunkline/pkg/batch"
	"github.com/ligustah/chunkline/pkg/resultfile"
)

// ErrOutput marks failures to create or commit the result file.
var ErrOutput = errors.New("jobs: result file")

// ReaderOptions translates cfg into reader options.
func ReaderOptions(cfg config.Config, logger *slog.Logger) []batch.ReaderOption {
	return []batch.ReaderOption{
		batch.WithSectionSize(cfg.SectionSize),
		batch.WithIgnoreEmptyLines(cfg.IgnoreEmptyLines),
		batch.WithEncoding(cfg.Encoding),
		batch.WithParser(batch.SplitParser(cfg.Extract.Separator)),
		batch.WithReadRetries(cfg.Read.Retries, cfg.Read.Delay),
		batch.WithBufferSize(int(cfg.Read.BufferSize)),
		batch.WithLogger(logger),
	}
}

// Extract copies selected fields of every input line to a result file.
// With no fields configured, whole lines are copied.
//
// An Extract is good for one run.
type Extract struct {
	cfg    config.Config
	policy batch.Policy

	sink     *resultfile.Sink
	src      batch.Source
	reader   *batch.FileReader
	cooldown *batch.CooldownReader
}

// NewExtract validates cfg for the extract job.
func NewExtract(cfg config.Config) (*Extract, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Output == "" {
		return nil, errors.New("jobs: extract needs an output location")
	}
	if _, err := regexp.Compile(cfg.Extract.Separator); err != nil {
		return nil, fmt.Errorf("jobs: separator %q: %w", cfg.Extract.Separator, err)
	}
	policy, err := batch.ParsePolicy(cfg.ProgressPolicy)
	if err != nil {
		return nil, err
	}
	return &Extract{cfg: cfg, policy: policy}, nil
}

// Run runs the job with a fresh batch.
func (e *Extract) Run(ctx context.Context, logger *slog.Logger, runID string) (*batch.Summary, error) {
	b, err := batch.New(batch.Config{
		Workers:        e.cfg.Workers,
		StatusInterval: e.cfg.StatusInterval,
		PollInterval:   e.cfg.PollInterval,
		SkipLimit:      e.cfg.SkipLimit,
		RunID:          runID,
		Logger:         logger,
	}, e.Factories())
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, logger)
	return b.Run(ctx)
}

// Factories returns the batch factories of the job.
func (e *Extract) Factories() batch.Factories {
	return batch.Factories{
		Init:     e.init,
		Reader:   e.newReader,
		State:    e.newState,
		Worker:   e.newWorker,
		Complete: e.complete,
	}
}

func (e *Extract) init(ctx context.Context, env *batch.Env) error {
	sink, err := resultfile.Open(ctx, e.cfg.Output)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	e.sink = sink
	env.Logger.Info("writing results", "output", e.cfg.Output, "fields", e.cfg.Extract.Fields)
	return nil
}

func (e *Extract) newReader(ctx context.Context, env *batch.Env) (batch.Reader, error) {
	src, err := OpenInput(ctx, e.cfg.Input)
	if err != nil {
		return nil, err
	}
	r, err := batch.NewReader(ctx, src, ReaderOptions(e.cfg, env.Logger)...)
	if err != nil {
		src.Close()
		return nil, err
	}
	e.src = src
	e.reader = r
	e.cooldown = batch.NewCooldownReader(r, e.cfg.Cooldown.AfterLines, e.cfg.Cooldown.Duration, env.Logger)
	return e.cooldown, nil
}

func (e *Extract) newState(ctx context.Context, env *batch.Env) (batch.State, error) {
	var total int64
	var err error
	switch e.policy {
	case batch.BytesPolicy:
		total, err = e.src.Size(ctx)
	default:
		quiet := slog.New(slog.DiscardHandler)
		total, err = batch.CountLines(ctx, e.src, ReaderOptions(e.cfg, quiet)...)
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: size input: %w", err)
	}

	env.Logger.Info("input size", "policy", e.policy.String(), "total", e.formatTotal(total))
	if total == 0 {
		env.Logger.Warn("input is empty")
		total = 1
	}

	p, err := batch.NewProgress(batch.ProgressOptions{
		Total:   total,
		Policy:  e.policy,
		Charset: e.reader.Charset(),
		Logger:  env.Logger,
	})
	if err != nil {
		return nil, err
	}
	e.cooldown.AddListener(p)
	return p, nil
}

func (e *Extract) newWorker(_ context.Context, env *batch.Env, id int) (batch.Processor, error) {
	return &extractor{
		fields: e.cfg.Extract.Fields,
		sep:    e.cfg.Extract.OutputSeparator,
		buf:    e.sink.NewBuffer(),
		log:    env.Logger.With("worker", id),
	}, nil
}

func (e *Extract) complete(ctx context.Context, env *batch.Env, summary *batch.Summary) error {
	if err := e.sink.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	removed, err := e.sink.RemoveIfEmpty(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	if removed {
		env.Logger.Info("removed empty result file", "output", e.cfg.Output)
		return nil
	}
	env.Logger.Info("result file written",
		"output", e.cfg.Output,
		"size", progress.FormatBytes(e.sink.Size()),
		"sha256", e.sink.Checksum(),
		"lines", summary.Lines,
	)
	return nil
}

// release cleans up after runs that never reached complete.
func (e *Extract) release(ctx context.Context, logger *slog.Logger) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Close(); err != nil {
		logger.Warn("failed to close result file", "error", err)
	}
	if _, err := e.sink.RemoveIfEmpty(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("failed to remove empty result file", "error", err)
	}
	if err := e.sink.Release(); err != nil {
		logger.Warn("failed to release output bucket", "error", err)
	}
}

func (e *Extract) formatTotal(total int64) string {
	if e.policy == batch.BytesPolicy {
		return progress.FormatBytes(total)
	}
	return fmt.Sprint(total)
}

// extractor is the per-worker processor of Extract.
type extractor struct {
	fields []int
	sep    string
	buf    *resultfile.Buffer
	log    *slog.Logger
}

func (x *extractor) ProcessLine(_ context.Context, line batch.Line) error {
	if len(x.fields) == 0 {
		x.buf.Add(line.Text())
		return nil
	}
	out := make([]string, len(x.fields))
	for i, f := range x.fields {
		v, ok := line.Field(f)
		if !ok {
			return batch.FormatError(line.Text(),
				fmt.Errorf("field %d requested, line has %d", f, line.NumFields()))
		}
		out[i] = v
	}
	x.buf.Add(strings.Join(out, x.sep))
	return nil
}

func (x *extractor) SectionComplete(context.Context) error {
	n := x.buf.Len()
	if err := x.buf.Flush(); err != nil {
		return batch.Processing(batch.Fatal, err, "flush %d results", n)
	}
	return nil
}

func (x *extractor) JobComplete(context.Context) error {
	if x.buf.Len() > 0 {
		x.log.Warn("flushing results left after last section", "lines", x.buf.Len())
	}
	return x.buf.Flush()
}
