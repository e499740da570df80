package progress

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// StatusLogger is anything that can log its current status.
type StatusLogger interface {
	LogStatus()
}

// StatusLoggerFunc adapts a function to StatusLogger.
type StatusLoggerFunc func()

// LogStatus implements StatusLogger.
func (f StatusLoggerFunc) LogStatus() { f() }

// Options configures the status reporter.
type Options struct {
	// Interval is how often status is logged.
	// Default: 30s
	Interval time.Duration

	// Logger receives reporter lifecycle events.
	Logger *slog.Logger
}

// Reporter logs a target's status at a fixed rate, independent of how fast
// the target progresses. The first report happens as soon as it starts.
type Reporter struct {
	target StatusLogger
	opts   Options

	mu      sync.Mutex
	ticks   atomic.Int64
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReporter creates a reporter for target.
func NewReporter(target StatusLogger, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Reporter{
		target: target,
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins reporting. Calling Start twice has no effect.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	r.opts.Logger.Debug("status reporter started", "interval", r.opts.Interval)
	go r.updateLoop()
}

// Stop stops reporting and waits for an in-flight report to finish.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// Ticks returns how many reports have been made.
func (r *Reporter) Ticks() int64 {
	return r.ticks.Load()
}

// updateLoop reports immediately, then on every tick.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.report()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	r.ticks.Add(1)
	r.target.LogStatus()
}

// FormatBytes formats bytes as a human-readable string using binary units.
func FormatBytes(b int64) string {
	const (
		KiB = 1024
		MiB = KiB * 1024
		GiB = MiB * 1024
		TiB = GiB * 1024
	)

	switch {
	case b >= TiB:
		return fmt.Sprintf("%.1f TiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.1f GiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.1f MiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.1f KiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// FormatDuration formats a duration as a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// ParseBytes parses a human-readable byte string such as "64KiB" or "1.5MB".
// IEC suffixes (KiB, MiB, ...) are powers of 1024; SI suffixes (KB, MB, ...)
// are powers of 1000.
func ParseBytes(s string) (int64, error) {
	units := []struct {
		suffix     string
		multiplier float64
	}{
		{"TiB", 1 << 40},
		{"GiB", 1 << 30},
		{"MiB", 1 << 20},
		{"KiB", 1 << 10},
		{"TB", 1e12},
		{"GB", 1e9},
		{"MB", 1e6},
		{"KB", 1e3},
		{"B", 1},
	}

	s = strings.TrimSpace(s)
	multiplier := 1.0
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	var value float64
	_, err := fmt.Sscanf(s, "%f", &value)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * multiplier), nil
}
