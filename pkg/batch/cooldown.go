package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CooldownListener is notified when a cooldown starts (true) and ends (false).
type CooldownListener interface {
	CooldownChanged(active bool)
}

// CooldownListenerFunc adapts a function to CooldownListener.
type CooldownListenerFunc func(active bool)

// CooldownChanged implements CooldownListener.
func (f CooldownListenerFunc) CooldownChanged(active bool) { f(active) }

// lineObserver is implemented by readers that can report each raw line read.
type lineObserver interface {
	OnLineRead(hook func(ctx context.Context))
}

// CooldownReader pauses reading for a fixed duration every afterLines lines.
//
// When the wrapped reader supports per-line hooks (FileReader does), the pause
// happens while the reader is held, so every concurrent caller waits. Other
// readers are paced per claim by the number of lines returned.
type CooldownReader struct {
	Reader

	afterLines int
	pause      time.Duration
	log        *slog.Logger
	perLine    bool

	mu        sync.Mutex
	count     int
	listeners []CooldownListener
}

// NewCooldownReader wraps r. A threshold of zero or less disables cooldown.
func NewCooldownReader(r Reader, afterLines int, pause time.Duration, logger *slog.Logger) *CooldownReader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &CooldownReader{
		Reader:     r,
		afterLines: afterLines,
		pause:      pause,
		log:        logger,
	}
	if o, ok := r.(lineObserver); ok && c.Enabled() {
		o.OnLineRead(func(ctx context.Context) { c.tick(ctx, 1) })
		c.perLine = true
	}
	return c
}

// Enabled reports whether the reader ever pauses.
func (c *CooldownReader) Enabled() bool {
	return c.afterLines > 0
}

// AddListener registers l. Listeners are called in registration order.
func (c *CooldownReader) AddListener(l CooldownListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// ReadSection implements Reader.
func (c *CooldownReader) ReadSection(ctx context.Context) (*Section, error) {
	sec, err := c.Reader.ReadSection(ctx)
	if err == nil && !c.perLine {
		c.tick(ctx, sec.Len()+len(sec.Rejected))
	}
	return sec, err
}

// ReadLine implements Reader.
func (c *CooldownReader) ReadLine(ctx context.Context) (Line, error) {
	line, err := c.Reader.ReadLine(ctx)
	if !c.perLine && (err == nil || AsError(err).Code == CodeFormat) {
		c.tick(ctx, 1)
	}
	return line, err
}

func (c *CooldownReader) tick(ctx context.Context, n int) {
	if !c.Enabled() || n <= 0 {
		return
	}

	c.mu.Lock()
	c.count += n
	if c.count < c.afterLines {
		c.mu.Unlock()
		return
	}
	listeners := append([]CooldownListener(nil), c.listeners...)
	c.mu.Unlock()

	notify(listeners, true)
	c.log.Info("input reader cooldown", "duration", c.pause)
	if !sleep(ctx, c.pause) {
		c.log.Info("cooldown interrupted")
	}
	notify(listeners, false)

	c.mu.Lock()
	c.count = 0
	c.mu.Unlock()
}

func notify(listeners []CooldownListener, active bool) {
	for _, l := range listeners {
		l.CooldownChanged(active)
	}
}
