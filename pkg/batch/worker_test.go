package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T, content string, opts ...ReaderOption) *FileReader {
	t.Helper()
	src, _ := memSource(t, "data.txt", content)
	r, err := NewReader(context.Background(), src, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWorkerProcessesAll(t *testing.T) {
	r := newTestReader(t, numberedLines(25), WithSectionSize(10))
	state := newProgress(t, 25)

	var seen []string
	proc := &funcProcessor{process: func(_ context.Context, line Line) error {
		seen = append(seen, line.Text())
		return nil
	}}

	w := NewWorker(r, state, proc, WorkerOptions{Name: "w"})
	assert.True(t, w.Alive())

	status := w.Run(context.Background())
	assert.Equal(t, StoppedNormally, status)
	assert.False(t, w.Alive())
	assert.Len(t, seen, 25)
	assert.Equal(t, 100.0, state.CompletionPercentage())

	sections, jobs := proc.counts()
	assert.Equal(t, 3, sections)
	assert.Equal(t, 1, jobs)

	report := w.Report()
	assert.Equal(t, int64(3), report.Sections)
	assert.Equal(t, int64(25), report.Lines)
}

func TestWorkerFatalLineStopsClaims(t *testing.T) {
	r := newTestReader(t, numberedLines(30), WithSectionSize(10))
	state := newProgress(t, 30)

	proc := &funcProcessor{process: func(_ context.Context, line Line) error {
		if line.Text() == "line-0004" {
			return Processing(Fatal, nil, "cannot index %s", line.Text())
		}
		return nil
	}}

	w := NewWorker(r, state, proc, WorkerOptions{})
	assert.Equal(t, StoppedFatally, w.Run(context.Background()))

	// Lines before the failing one are counted; the rest of the input is
	// left for other workers.
	assert.Equal(t, int64(4), state.Processed())
	sections, jobs := proc.counts()
	assert.Equal(t, 1, sections)
	assert.Zero(t, jobs)

	_, fatal := state.ErrorCounts()
	assert.Equal(t, 1, fatal)

	line, err := r.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "line-0010", line.Text())
}

func TestWorkerRecoverableErrorsContinue(t *testing.T) {
	r := newTestReader(t, numberedLines(10), WithSectionSize(3))
	state := newProgress(t, 10)

	proc := &funcProcessor{process: func(_ context.Context, line Line) error {
		if strings.HasSuffix(line.Text(), "5") {
			return Processing(Recoverable, nil, "skip %s", line.Text())
		}
		return nil
	}}

	w := NewWorker(r, state, proc, WorkerOptions{})
	assert.Equal(t, StoppedNormally, w.Run(context.Background()))
	assert.Equal(t, int64(9), state.Processed())

	recoverable, fatal := state.ErrorCounts()
	assert.Equal(t, 1, recoverable)
	assert.Zero(t, fatal)
}

func TestWorkerUnclassifiedErrorIsFatal(t *testing.T) {
	r := newTestReader(t, numberedLines(10))
	state := newProgress(t, 10)

	proc := &funcProcessor{process: func(context.Context, Line) error {
		return errors.New("disk full")
	}}

	w := NewWorker(r, state, proc, WorkerOptions{})
	assert.Equal(t, StoppedFatally, w.Run(context.Background()))

	errs := state.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, CodeUnexpected, errs[0].Code)
}

func TestWorkerSkipLimit(t *testing.T) {
	r := newTestReader(t, numberedLines(20), WithSectionSize(5))
	state := newProgress(t, 20)

	proc := &funcProcessor{process: func(_ context.Context, line Line) error {
		return Processing(Recoverable, nil, "rejected %s", line.Text())
	}}

	w := NewWorker(r, state, proc, WorkerOptions{SkipLimit: 3})
	assert.Equal(t, StoppedFatally, w.Run(context.Background()))

	recoverable, fatal := state.ErrorCounts()
	assert.Equal(t, 4, recoverable)
	assert.Equal(t, 1, fatal)

	errs := state.Errors()
	assert.Equal(t, CodeSkipLimitExceeded, errs[len(errs)-1].Code)
}

func TestWorkerRejectedLinesAreReported(t *testing.T) {
	parser := ParserFunc(func(raw string) (Line, error) {
		if strings.HasPrefix(raw, "#") {
			return Line{}, errors.New("comment")
		}
		return NewLine(raw, DefaultSeparator)
	})
	r := newTestReader(t, "a\n#b\nc\n", WithParser(parser))
	state := newProgress(t, 2)

	w := NewWorker(r, state, &funcProcessor{}, WorkerOptions{})
	assert.Equal(t, StoppedNormally, w.Run(context.Background()))
	assert.Equal(t, 100.0, state.CompletionPercentage())

	errs := state.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, CodeFormat, errs[0].Code)
}

func TestWorkerSectionCompleteFailure(t *testing.T) {
	r := newTestReader(t, numberedLines(6), WithSectionSize(2))
	state := newProgress(t, 6)

	var calls atomic.Int32
	proc := &funcProcessor{section: func(context.Context) error {
		if calls.Add(1) == 2 {
			return Processing(Recoverable, nil, "flush failed")
		}
		return nil
	}}

	w := NewWorker(r, state, proc, WorkerOptions{})
	assert.Equal(t, StoppedNormally, w.Run(context.Background()))
	assert.Len(t, state.Errors(), 1)
}

func TestWorkerJobCompleteFailureKeepsStatus(t *testing.T) {
	r := newTestReader(t, numberedLines(3))
	state := newProgress(t, 3)

	proc := &funcProcessor{complete: func(context.Context) error {
		return Processing(Fatal, nil, "commit failed")
	}}

	w := NewWorker(r, state, proc, WorkerOptions{})
	assert.Equal(t, StoppedNormally, w.Run(context.Background()))

	_, fatal := state.ErrorCounts()
	assert.Equal(t, 1, fatal)
}

type dropOdd struct {
	funcProcessor
}

func (d *dropOdd) PreProcess(_ context.Context, lines []Line) ([]Line, error) {
	var out []Line
	for i, l := range lines {
		if i%2 == 0 {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestWorkerSectionFilter(t *testing.T) {
	r := newTestReader(t, numberedLines(4), WithSectionSize(4))
	state := newProgress(t, 4)

	w := NewWorker(r, state, &dropOdd{}, WorkerOptions{})
	assert.Equal(t, StoppedNormally, w.Run(context.Background()))
	assert.Equal(t, int64(2), state.Processed())
}

// runSiblings runs a failing and a healthy worker side by side on one reader.
// The healthy worker holds its first section until the failing one has
// processed a line, so both are busy at the same time.
func runSiblings(t *testing.T, n int, fail func() error) (failing, healthy *Worker, state *Progress, healthyLines int64) {
	t.Helper()
	r := newTestReader(t, numberedLines(n), WithSectionSize(5))
	state = newProgress(t, int64(n))

	broken := make(chan struct{})
	var once sync.Once
	bad := &funcProcessor{process: func(context.Context, Line) error {
		defer once.Do(func() { close(broken) })
		return fail()
	}}
	var count atomic.Int64
	good := &funcProcessor{process: func(ctx context.Context, _ Line) error {
		select {
		case <-broken:
		case <-ctx.Done():
			return ctx.Err()
		}
		count.Add(1)
		return nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failing = NewWorker(r, state, bad, WorkerOptions{Name: "failing"})
	healthy = NewWorker(r, state, good, WorkerOptions{Name: "healthy"})
	failing.Start(ctx)
	healthy.Start(ctx)
	<-failing.Done()
	<-healthy.Done()
	return failing, healthy, state, count.Load()
}

func TestWorkerSiblingsUnaffected(t *testing.T) {
	const n = 200
	failing, healthy, state, lines := runSiblings(t, n, func() error {
		return Processing(Fatal, nil, "broken")
	})

	assert.Equal(t, StoppedFatally, failing.Status())
	assert.Equal(t, StoppedNormally, healthy.Status())
	// The failing worker loses only the section it claimed.
	assert.Equal(t, int64(n-5), lines)
	assert.Equal(t, lines, state.Processed())
	assert.Equal(t, int64(1), failing.Report().Sections)
}

func TestWorkerPanicStopsOnlyThatWorker(t *testing.T) {
	const n = 200
	failing, healthy, state, lines := runSiblings(t, n, func() error {
		panic("index out of range")
	})

	assert.Equal(t, StoppedFatally, failing.Status())
	assert.Equal(t, StoppedNormally, healthy.Status())
	assert.Equal(t, int64(n-5), lines)
	assert.Equal(t, lines, state.Processed())

	errs := state.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, CodeUnexpected, errs[0].Code)
	assert.True(t, errs[0].IsFatal())
	assert.Equal(t, "Panic in ProcessLine: index out of range", errs[0].Text())
}

func TestWorkerPanicInSectionComplete(t *testing.T) {
	r := newTestReader(t, numberedLines(10), WithSectionSize(5))
	state := newProgress(t, 10)

	proc := &funcProcessor{section: func(context.Context) error {
		panic(errors.New("flush exploded"))
	}}
	w := NewWorker(r, state, proc, WorkerOptions{})
	assert.Equal(t, StoppedFatally, w.Run(context.Background()))
	assert.Equal(t, int64(5), state.Processed())

	errs := state.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, CodeUnexpected, errs[0].Code)
	assert.Contains(t, errs[0].Text(), "SectionComplete")
	assert.Contains(t, errs[0].Error(), "flush exploded")
}

func TestWorkerStopsOnCancel(t *testing.T) {
	r := newTestReader(t, numberedLines(100), WithSectionSize(1))
	state := newProgress(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	proc := &funcProcessor{process: func(_ context.Context, line Line) error {
		if line.Text() == "line-0009" {
			cancel()
		}
		return nil
	}}

	w := NewWorker(r, state, proc, WorkerOptions{})
	assert.Equal(t, StoppedFatally, w.Run(ctx))
	assert.Equal(t, int64(10), state.Processed())

	errs := state.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, CodeCancelled, errs[0].Code)
}
