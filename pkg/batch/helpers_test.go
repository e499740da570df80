package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

var errFlaky = errors.New("flaky: connection reset")

// memSource stores content in a memory bucket and returns a source for it.
func memSource(t *testing.T, key, content string) (*BlobSource, *blob.Bucket) {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	require.NoError(t, bucket.WriteAll(context.Background(), key, []byte(content), nil))
	return NewBlobSource(bucket, key), bucket
}

// numberedLines returns n lines "line-0000".."line-n-1", each terminated.
func numberedLines(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "line-%04d\n", i)
	}
	return sb.String()
}

// flakySource fails the streams of its first failOpens opens after
// failAfter bytes.
type flakySource struct {
	Source
	failOpens int
	failAfter int64

	mu      sync.Mutex
	opens   int
	offsets []int64
}

func (s *flakySource) Open(ctx context.Context, offset int64) (io.ReadCloser, error) {
	s.mu.Lock()
	s.opens++
	n := s.opens
	s.offsets = append(s.offsets, offset)
	s.mu.Unlock()

	// Cancellation is observed by the retry sleep only.
	rc, err := s.Source.Open(context.WithoutCancel(ctx), offset)
	if err != nil {
		return nil, err
	}
	if n > s.failOpens {
		return rc, nil
	}
	return &flakyStream{rc: rc, left: s.failAfter}, nil
}

func (s *flakySource) openOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets...)
}

type flakyStream struct {
	rc   io.ReadCloser
	left int64
}

func (f *flakyStream) Read(p []byte) (int, error) {
	if f.left <= 0 {
		return 0, errFlaky
	}
	if int64(len(p)) > f.left {
		p = p[:f.left]
	}
	n, err := f.rc.Read(p)
	f.left -= int64(n)
	return n, err
}

func (f *flakyStream) Close() error { return f.rc.Close() }

// readAllLines drains r line by line.
func readAllLines(t *testing.T, r Reader) []string {
	t.Helper()
	var out []string
	for {
		line, err := r.ReadLine(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, line.Text())
	}
}

// funcProcessor is a Processor built from optional functions.
type funcProcessor struct {
	process  func(ctx context.Context, line Line) error
	section  func(ctx context.Context) error
	complete func(ctx context.Context) error

	mu       sync.Mutex
	sections int
	jobs     int
}

func (p *funcProcessor) ProcessLine(ctx context.Context, line Line) error {
	if p.process == nil {
		return nil
	}
	return p.process(ctx, line)
}

func (p *funcProcessor) SectionComplete(ctx context.Context) error {
	p.mu.Lock()
	p.sections++
	p.mu.Unlock()
	if p.section == nil {
		return nil
	}
	return p.section(ctx)
}

func (p *funcProcessor) JobComplete(ctx context.Context) error {
	p.mu.Lock()
	p.jobs++
	p.mu.Unlock()
	if p.complete == nil {
		return nil
	}
	return p.complete(ctx)
}

func (p *funcProcessor) counts() (sections, jobs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sections, p.jobs
}

// newProgress returns a line-count Progress for total lines.
func newProgress(t *testing.T, total int64) *Progress {
	t.Helper()
	p, err := NewProgress(ProgressOptions{Total: total})
	require.NoError(t, err)
	return p
}
