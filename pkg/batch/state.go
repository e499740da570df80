package batch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ligustah/chunkline/internal/progress"
)

// State tracks the progress of a batch. Implementations must be safe for
// concurrent use by all workers.
type State interface {
	// NotifyLineProcessed records a successfully processed line.
	NotifyLineProcessed(line Line)

	// NotifyError records an error. It never fails.
	NotifyError(err *Error)

	// CompletionPercentage returns 100*processed/total.
	CompletionPercentage() float64

	// Errors returns a snapshot of the recorded errors in order.
	Errors() []*Error

	// ErrorCounts returns the number of recoverable and fatal errors.
	ErrorCounts() (recoverable, fatal int)

	// LogStatus logs the current status.
	LogStatus()
}

// FinalStatusLogger is implemented by states whose final status differs from
// the periodic one.
type FinalStatusLogger interface {
	LogFinalStatus()
}

// Policy decides how much a processed line advances progress.
type Policy int

const (
	// LinesPolicy counts one unit per line.
	LinesPolicy Policy = iota
	// BytesPolicy counts the encoded size of the line plus its terminator.
	BytesPolicy
)

func (p Policy) String() string {
	switch p {
	case LinesPolicy:
		return "lines"
	case BytesPolicy:
		return "bytes"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "lines" or "bytes".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lines":
		return LinesPolicy, nil
	case "bytes":
		return BytesPolicy, nil
	default:
		return 0, fmt.Errorf("batch: unknown progress policy %q", s)
	}
}

// ProgressOptions configures a Progress.
type ProgressOptions struct {
	// Total is the number of units to process. Must be positive.
	Total int64

	// Policy selects the unit.
	Policy Policy

	// Charset measures line sizes under BytesPolicy. Default: utf-8.
	Charset *Charset

	// Logger receives status lines.
	Logger *slog.Logger
}

// Progress is the standard State. It also listens for cooldowns and stays
// quiet while one is active.
type Progress struct {
	total   int64
	policy  Policy
	charset *Charset
	log     *slog.Logger

	mu          sync.Mutex
	processed   int64
	lines       int64
	skipped     int64
	errs        []*Error
	recoverable int
	fatal       int

	cooldown atomic.Bool
}

// NewProgress creates a Progress.
func NewProgress(opts ProgressOptions) (*Progress, error) {
	if opts.Total <= 0 {
		return nil, errors.New("batch: total units to process must be positive")
	}
	if opts.Charset == nil {
		cs, err := LookupCharset(DefaultEncoding)
		if err != nil {
			return nil, err
		}
		opts.Charset = cs
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Progress{
		total:   opts.Total,
		policy:  opts.Policy,
		charset: opts.Charset,
		log:     opts.Logger,
	}, nil
}

// NotifyLineProcessed implements State.
func (p *Progress) NotifyLineProcessed(line Line) {
	units := int64(1)
	if p.policy == BytesPolicy {
		units = int64(p.charset.EncodedLen(line.Text()) + p.charset.EOLLen())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed += units
	p.lines++
}

// NotifySkipped records an item that was deliberately not processed.
func (p *Progress) NotifySkipped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipped++
}

// NotifyError implements State.
func (p *Progress) NotifyError(err *Error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
	if err.IsFatal() {
		p.fatal++
	} else {
		p.recoverable++
	}
}

// CompletionPercentage implements State. The result never exceeds 100: under
// BytesPolicy a final line without a terminator is still counted with one.
func (p *Progress) CompletionPercentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percentage()
}

func (p *Progress) percentage() float64 {
	pct := 100 * float64(p.processed) / float64(p.total)
	if pct > 100 {
		return 100
	}
	return pct
}

// Errors implements State.
func (p *Progress) Errors() []*Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Error, len(p.errs))
	copy(out, p.errs)
	return out
}

// ErrorCounts implements State.
func (p *Progress) ErrorCounts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recoverable, p.fatal
}

// Processed returns the units processed so far.
func (p *Progress) Processed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

// Total returns the units to process.
func (p *Progress) Total() int64 {
	return p.total
}

// Lines returns the number of lines processed.
func (p *Progress) Lines() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines
}

// Skipped returns the number of skipped items.
func (p *Progress) Skipped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}

// CooldownChanged implements CooldownListener.
func (p *Progress) CooldownChanged(active bool) {
	p.cooldown.Store(active)
}

// LogStatus implements State. Nothing is logged during a cooldown.
func (p *Progress) LogStatus() {
	if p.cooldown.Load() {
		return
	}
	p.logStatus("status")
}

// LogFinalStatus logs the status regardless of cooldown.
func (p *Progress) LogFinalStatus() {
	p.logStatus("final status")
}

func (p *Progress) logStatus(msg string) {
	p.mu.Lock()
	attrs := []any{
		"lines", p.lines,
		"processed", p.format(p.processed) + "/" + p.format(p.total),
		"percent", fmt.Sprintf("%.2f", p.percentage()),
	}
	if p.skipped > 0 {
		attrs = append(attrs, "skipped", p.skipped)
	}
	if n := len(p.errs); n > 0 {
		attrs = append(attrs, "failed", n)
	}
	p.mu.Unlock()

	p.log.Info(msg, attrs...)
}

func (p *Progress) format(units int64) string {
	if p.policy == BytesPolicy {
		return progress.FormatBytes(units)
	}
	return fmt.Sprint(units)
}

var (
	_ State             = (*Progress)(nil)
	_ FinalStatusLogger = (*Progress)(nil)
	_ CooldownListener  = (*Progress)(nil)
)
