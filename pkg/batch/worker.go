package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Processor transforms lines. A Processor belongs to exactly one worker, so
// it may keep private buffers without locking.
type Processor interface {
	// ProcessLine transforms one line. Returned errors are classified with
	// AsError: a *Error keeps its severity, anything else is fatal.
	ProcessLine(ctx context.Context, line Line) error

	// SectionComplete is called after every section, e.g. to flush buffers.
	SectionComplete(ctx context.Context) error

	// JobComplete is called once when the worker stops normally.
	JobComplete(ctx context.Context) error
}

// SectionFilter is an optional Processor extension that may filter or
// aggregate the lines of a section before they are processed.
type SectionFilter interface {
	PreProcess(ctx context.Context, lines []Line) ([]Line, error)
}

// Status is the lifecycle state of a worker.
type Status int32

const (
	Running Status = iota
	StoppedNormally
	StoppedFatally
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case StoppedNormally:
		return "stopped"
	case StoppedFatally:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Name identifies the worker in logs.
	Name string

	// SkipLimit is the number of recoverable errors, counted across the whole
	// batch, that a worker tolerates. The next one stops it. Zero disables
	// the limit.
	SkipLimit int

	// Logger receives worker events.
	Logger *slog.Logger
}

// WorkerReport summarizes a worker after it stopped.
type WorkerReport struct {
	Name     string
	Status   Status
	Sections int64
	Lines    int64
}

// Worker claims sections from a Reader and feeds their lines to a Processor
// until the input is exhausted or a fatal error occurs.
type Worker struct {
	reader Reader
	state  State
	proc   Processor
	opts   WorkerOptions
	log    *slog.Logger

	status   atomic.Int32
	sections atomic.Int64
	lines    atomic.Int64

	startOnce sync.Once
	done      chan struct{}
}

// NewWorker creates a worker. It does nothing until Run or Start.
func NewWorker(r Reader, s State, p Processor, opts WorkerOptions) *Worker {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	log := opts.Logger
	if opts.Name != "" {
		log = log.With("worker", opts.Name)
	}
	return &Worker{
		reader: r,
		state:  s,
		proc:   p,
		opts:   opts,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Start runs the worker on a new goroutine. Only the first call has an
// effect.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

// Run runs the worker loop on the calling goroutine and returns its terminal
// status. If the worker was already started, Run waits for it instead.
func (w *Worker) Run(ctx context.Context) Status {
	w.startOnce.Do(func() {
		w.run(ctx)
	})
	<-w.done
	return w.Status()
}

// Alive reports whether the worker has not finished yet.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Done is closed when the worker has finished.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Status returns the current status.
func (w *Worker) Status() Status {
	return Status(w.status.Load())
}

// Report returns a summary of the worker.
func (w *Worker) Report() WorkerReport {
	return WorkerReport{
		Name:     w.opts.Name,
		Status:   w.Status(),
		Sections: w.sections.Load(),
		Lines:    w.lines.Load(),
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	w.log.Debug("worker started")
	for w.Status() == Running {
		if err := ctx.Err(); err != nil {
			w.fail(errCancelled(err))
			break
		}

		sec, err := w.reader.ReadSection(ctx)
		if err != nil {
			w.fail(err)
			continue
		}
		w.sections.Add(1)

		for _, rej := range sec.Rejected {
			if w.fail(rej) {
				break
			}
		}
		if w.Status() == Running {
			w.processSection(ctx, sec)
		}

		if sec.Last && w.Status() == Running {
			w.status.Store(int32(StoppedNormally))
		}
	}

	if w.Status() == StoppedNormally {
		if err := w.guard("JobComplete", func() error { return w.proc.JobComplete(ctx) }); err != nil {
			w.report(err)
		}
	}
	w.log.Info("worker stopped",
		"status", w.Status(),
		"sections", w.sections.Load(),
		"lines", w.lines.Load(),
	)
}

// processSection processes the lines of sec. On a fatal line error the rest
// of the section is dropped, but SectionComplete still runs so that the
// lines already counted as processed are flushed.
func (w *Worker) processSection(ctx context.Context, sec *Section) {
	lines := sec.Lines
	if f, ok := w.proc.(SectionFilter); ok {
		var filtered []Line
		err := w.guard("PreProcess", func() (err error) {
			filtered, err = f.PreProcess(ctx, lines)
			return err
		})
		if err != nil {
			if w.fail(err) {
				return
			}
			filtered = nil
		}
		lines = filtered
	}

	for _, line := range lines {
		if err := w.guard("ProcessLine", func() error { return w.proc.ProcessLine(ctx, line) }); err != nil {
			if w.fail(err) {
				break
			}
			continue
		}
		w.state.NotifyLineProcessed(line)
		w.lines.Add(1)
	}

	if err := w.guard("SectionComplete", func() error { return w.proc.SectionComplete(ctx) }); err != nil {
		w.fail(err)
	}
}

// guard calls a processor hook and turns a panic into a fatal error, so that
// only this worker stops.
func (w *Worker) guard(hook string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			w.log.Error("processor panicked", "hook", hook, "panic", v, "stack", string(debug.Stack()))
			err = errPanic(hook, v)
		}
	}()
	return fn()
}

// fail reports err and stops the worker if it is fatal or if it pushed the
// batch over the skip limit. It returns true if the worker stopped.
func (w *Worker) fail(err error) bool {
	be := w.report(err)
	if be.IsFatal() {
		w.stop(be)
		return true
	}

	if w.opts.SkipLimit > 0 {
		recoverable, _ := w.state.ErrorCounts()
		if recoverable > w.opts.SkipLimit {
			over := errSkipLimit(w.opts.SkipLimit)
			w.report(over)
			w.stop(over)
			return true
		}
	}
	return false
}

// report logs err and records it in the state without changing the status.
func (w *Worker) report(err error) *Error {
	be := AsError(err)
	if be.IsFatal() {
		w.log.Error("fatal error", "code", be.Code, "error", be.Error())
	} else {
		w.log.Warn("recoverable error", "code", be.Code, "error", be.Error())
	}
	w.state.NotifyError(be)
	return be
}

func (w *Worker) stop(cause *Error) {
	if w.status.CompareAndSwap(int32(Running), int32(StoppedFatally)) {
		w.log.Info("worker stopping on fatal error", "code", cause.Code)
	}
}
