package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ligustah/chunkline/internal/progress"
)

// Config configures a Batch.
type Config struct {
	// Workers is the number of concurrent workers.
	// Default: 1
	Workers int

	// StatusInterval is how often the state's status is logged.
	// Default: 30s
	StatusInterval time.Duration

	// PollInterval is how often worker liveness is checked.
	// Default: 1s
	PollInterval time.Duration

	// SkipLimit is passed to every worker. Zero disables it.
	SkipLimit int

	// RunID identifies the run in logs. Default: a random UUID.
	RunID string

	// Logger is the base logger. Every line carries the run ID.
	Logger *slog.Logger
}

// Env is what the factories of a run get to see. Fields are filled in as
// the run is set up: Reader is nil when the Reader factory is called, State
// is nil when the State factory is called.
type Env struct {
	RunID  string
	Logger *slog.Logger
	Reader Reader
	State  State
}

// Factories build the per-run components. Init and Complete are optional.
type Factories struct {
	// Init runs first, before anything else is built.
	Init func(ctx context.Context, env *Env) error

	// Reader builds the input reader.
	Reader func(ctx context.Context, env *Env) (Reader, error)

	// State builds the progress state. It may depend on env.Reader, e.g. to
	// size the input or subscribe to cooldowns.
	State func(ctx context.Context, env *Env) (State, error)

	// Worker builds the processor of worker id.
	Worker func(ctx context.Context, env *Env, id int) (Processor, error)

	// Complete runs last, after the reader is closed and the final status is
	// logged, e.g. to remove empty output artifacts.
	Complete func(ctx context.Context, env *Env, summary *Summary) error
}

// Summary describes a finished run.
type Summary struct {
	RunID       string
	Lines       int64
	Percentage  float64
	Errors      []*Error
	Recoverable int
	Fatal       int
	Workers     []WorkerReport
	Elapsed     time.Duration
}

// Failed reports whether any worker stopped on a fatal error.
func (s *Summary) Failed() bool {
	for _, w := range s.Workers {
		if w.Status == StoppedFatally {
			return true
		}
	}
	return false
}

// Batch runs a pool of workers over one input.
type Batch struct {
	cfg Config
	f   Factories
	log *slog.Logger
}

// New validates cfg and f and returns a Batch.
func New(cfg Config, f Factories) (*Batch, error) {
	if f.Reader == nil || f.State == nil || f.Worker == nil {
		return nil, errors.New("batch: reader, state and worker factories are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SkipLimit < 0 {
		return nil, errors.New("batch: skip limit must not be negative")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Batch{
		cfg: cfg,
		f:   f,
		log: cfg.Logger.With("run_id", cfg.RunID),
	}, nil
}

// RunID returns the run identifier.
func (b *Batch) RunID() string {
	return b.cfg.RunID
}

// Run builds the components, runs the workers until all of them have
// stopped and reports the outcome. Worker failures are reported in the
// Summary; the returned error is reserved for setup and completion failures.
func (b *Batch) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	env := &Env{RunID: b.cfg.RunID, Logger: b.log}

	if b.f.Init != nil {
		if err := b.f.Init(ctx, env); err != nil {
			return nil, fmt.Errorf("batch: init: %w", err)
		}
	}

	reader, err := b.f.Reader(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("batch: create reader: %w", err)
	}
	env.Reader = reader
	readerClosed := false
	defer func() {
		if !readerClosed {
			_ = reader.Close()
		}
	}()

	state, err := b.f.State(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("batch: create state: %w", err)
	}
	env.State = state

	workers := make([]*Worker, b.cfg.Workers)
	for i := range workers {
		proc, err := b.f.Worker(ctx, env, i)
		if err != nil {
			return nil, fmt.Errorf("batch: create worker %d: %w", i, err)
		}
		workers[i] = NewWorker(reader, state, proc, WorkerOptions{
			Name:      fmt.Sprintf("worker-%d", i),
			SkipLimit: b.cfg.SkipLimit,
			Logger:    b.log,
		})
	}

	for _, w := range workers {
		w.Start(ctx)
	}
	b.log.Info("started workers", "count", len(workers))

	reporter := progress.NewReporter(state, progress.Options{
		Interval: b.cfg.StatusInterval,
		Logger:   b.log,
	})
	reporter.Start()
	defer reporter.Stop()

	b.waitForWorkers(workers)

	reporter.Stop()
	readerClosed = true
	if err := reader.Close(); err != nil {
		be := AsError(err)
		b.log.Error("failed to close reader", "error", be.Error())
		state.NotifyError(be)
	}

	if fs, ok := state.(FinalStatusLogger); ok {
		fs.LogFinalStatus()
	} else {
		state.LogStatus()
	}

	summary := b.summarize(state, workers)
	if b.f.Complete != nil {
		// Complete commits the results of a cancelled run as well.
		if err := b.f.Complete(context.WithoutCancel(ctx), env, summary); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, fmt.Errorf("batch: complete: %w", err)
		}
	}

	summary.Elapsed = time.Since(start)
	b.log.Info("batch finished",
		"elapsed", progress.FormatDuration(summary.Elapsed),
		"failed", summary.Failed(),
	)
	return summary, nil
}

// waitForWorkers polls until every worker has stopped. Workers are never
// stopped from outside; they end on their own once input or context is
// exhausted.
func (b *Batch) waitForWorkers(workers []*Worker) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		allDone := true
		for _, w := range workers {
			if w.Alive() {
				allDone = false
				break
			}
		}
		if allDone {
			return
		}
		<-ticker.C
	}
}

func (b *Batch) summarize(state State, workers []*Worker) *Summary {
	s := &Summary{
		RunID:      b.cfg.RunID,
		Percentage: state.CompletionPercentage(),
		Errors:     state.Errors(),
	}
	s.Recoverable, s.Fatal = state.ErrorCounts()
	for _, w := range workers {
		r := w.Report()
		s.Lines += r.Lines
		s.Workers = append(s.Workers, r)
	}
	return s
}
