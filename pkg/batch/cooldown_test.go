package batch

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cooldownRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *cooldownRecorder) CooldownChanged(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, active)
}

func (r *cooldownRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func TestCooldownPausesAfterThreshold(t *testing.T) {
	const pause = 50 * time.Millisecond

	src, _ := memSource(t, "data.txt", numberedLines(6))
	fr, err := NewReader(context.Background(), src)
	require.NoError(t, err)
	r := NewCooldownReader(fr, 3, pause, nil)
	defer r.Close()

	first, second := &cooldownRecorder{}, &cooldownRecorder{}
	var order []string
	var mu sync.Mutex
	r.AddListener(first)
	r.AddListener(CooldownListenerFunc(func(active bool) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	}))
	r.AddListener(second)

	for i := 0; i < 2; i++ {
		_, err := r.ReadLine(context.Background())
		require.NoError(t, err)
	}
	assert.Empty(t, first.get())

	start := time.Now()
	_, err = r.ReadLine(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), pause)
	assert.Equal(t, []bool{true, false}, first.get())
	assert.Equal(t, []bool{true, false}, second.get())
	assert.Equal(t, []string{"second", "second"}, order)

	// The counter starts over after a pause.
	for i := 0; i < 2; i++ {
		_, err := r.ReadLine(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, first.get(), 2)

	_, err = r.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, first.get())
}

func TestCooldownDisabled(t *testing.T) {
	for _, threshold := range []int{0, -1} {
		src, _ := memSource(t, "data.txt", numberedLines(20))
		fr, err := NewReader(context.Background(), src)
		require.NoError(t, err)
		r := NewCooldownReader(fr, threshold, time.Hour, nil)

		rec := &cooldownRecorder{}
		r.AddListener(rec)
		assert.False(t, r.Enabled())

		lines := readAllLines(t, r)
		assert.Len(t, lines, 20)
		assert.Empty(t, rec.get())
		require.NoError(t, r.Close())
	}
}

func TestCooldownInterrupted(t *testing.T) {
	src, _ := memSource(t, "data.txt", numberedLines(3))
	fr, err := NewReader(context.Background(), src)
	require.NoError(t, err)
	r := NewCooldownReader(fr, 1, time.Hour, nil)
	defer r.Close()

	rec := &cooldownRecorder{}
	r.AddListener(rec)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	line, err := r.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "line-0000", line.Text())
	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestCooldownSections(t *testing.T) {
	src, _ := memSource(t, "data.txt", numberedLines(10))
	fr, err := NewReader(context.Background(), src, WithSectionSize(4))
	require.NoError(t, err)
	r := NewCooldownReader(fr, 5, time.Millisecond, nil)
	defer r.Close()

	rec := &cooldownRecorder{}
	r.AddListener(rec)

	total := 0
	for {
		sec, err := r.ReadSection(context.Background())
		require.NoError(t, err)
		total += sec.Len()
		if sec.Last {
			break
		}
	}
	assert.Equal(t, 10, total)
	assert.Equal(t, []bool{true, false, true, false}, rec.get())
}

// sliceReader is a Reader without per-line hooks.
type sliceReader struct {
	mu    sync.Mutex
	lines []string
}

func (s *sliceReader) ReadSection(ctx context.Context) (*Section, error) {
	line, err := s.ReadLine(ctx)
	if err == io.EOF {
		return &Section{Last: true}, nil
	}
	return &Section{Lines: []Line{line}}, err
}

func (s *sliceReader) ReadLine(ctx context.Context) (Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return Line{}, io.EOF
	}
	text := s.lines[0]
	s.lines = s.lines[1:]
	return NewLine(text, DefaultSeparator)
}

func (s *sliceReader) Close() error     { return nil }
func (s *sliceReader) Encoding() string { return DefaultEncoding }
func (s *sliceReader) SectionSize() int { return 1 }

func TestCooldownWithoutLineHooks(t *testing.T) {
	inner := &sliceReader{lines: []string{"a", "b", "c", "d"}}
	r := NewCooldownReader(inner, 2, time.Millisecond, nil)

	rec := &cooldownRecorder{}
	r.AddListener(rec)

	assert.Equal(t, []string{"a", "b", "c", "d"}, readAllLines(t, r))
	assert.Equal(t, []bool{true, false, true, false}, rec.get())
}

func TestCooldownSuppressesStatus(t *testing.T) {
	p := newProgress(t, 10)
	src, _ := memSource(t, "data.txt", numberedLines(2))
	fr, err := NewReader(context.Background(), src)
	require.NoError(t, err)
	r := NewCooldownReader(fr, 1, time.Millisecond, nil)
	defer r.Close()

	var seen []bool
	r.AddListener(p)
	r.AddListener(CooldownListenerFunc(func(bool) {
		seen = append(seen, p.cooldown.Load())
	}))

	_, err = r.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, seen)
	assert.False(t, p.cooldown.Load())
}
