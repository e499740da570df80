package progress

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256.0 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{1500 * time.Millisecond, "2s"},
		{90 * time.Second, "1m 30s"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "3h 4m 5s"},
	}

	for _, tt := range tests {
		result := FormatDuration(tt.input)
		if result != tt.expected {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"64 KiB", 64 * 1024},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "KiB", "-5MB"} {
		if _, err := ParseBytes(input); err == nil {
			t.Errorf("ParseBytes(%q): expected error", input)
		}
	}
}

func TestReporterFirstTickImmediate(t *testing.T) {
	var calls atomic.Int32
	reporter := NewReporter(StatusLoggerFunc(func() { calls.Add(1) }), Options{
		Interval: time.Hour,
	})

	reporter.Start()
	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	reporter.Stop()

	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 report, got %d", calls.Load())
	}
	if reporter.Ticks() != 1 {
		t.Errorf("expected 1 tick, got %d", reporter.Ticks())
	}
}

func TestReporterFixedRate(t *testing.T) {
	var calls atomic.Int32
	reporter := NewReporter(StatusLoggerFunc(func() { calls.Add(1) }), Options{
		Interval: 10 * time.Millisecond,
	})

	reporter.Start()
	time.Sleep(75 * time.Millisecond)
	reporter.Stop()

	n := calls.Load()
	if n < 3 {
		t.Errorf("expected at least 3 reports, got %d", n)
	}

	// No reports after Stop returns.
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != n {
		t.Errorf("reports continued after Stop: %d -> %d", n, calls.Load())
	}
}

func TestReporterStopIdempotent(t *testing.T) {
	reporter := NewReporter(StatusLoggerFunc(func() {}), Options{Interval: time.Millisecond})

	// Stop before Start must not block.
	reporter.Stop()
	reporter.Stop()
	reporter.Start()

	if reporter.Ticks() != 0 {
		t.Errorf("expected no ticks after Stop, got %d", reporter.Ticks())
	}
}
