package resultfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/chunkline/pkg/batch"
)

// ErrClosed is returned by writes to a closed sink.
var ErrClosed = errors.New("result file is closed")

// Sink is a result object in a bucket shared by all workers of a batch.
// Each Write is appended atomically.
type Sink struct {
	bucket     *blob.Bucket
	key        string
	ownsBucket bool

	mu      sync.Mutex
	w       *blob.Writer
	sum     hash.Hash
	written int64
	closed  bool
}

// Open creates a sink at location (a local path or a bucket URL with an
// object key, see batch.ParseLocation). An existing object is replaced when
// the sink is closed.
func Open(ctx context.Context, location string) (*Sink, error) {
	bucketURL, key, err := batch.ParseLocation(location)
	if err != nil {
		return nil, err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("resultfile: open bucket %s: %w", bucketURL, err)
	}
	s, err := New(ctx, bucket, key)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	s.ownsBucket = true
	return s, nil
}

// New creates a sink writing key in bucket. The bucket stays owned by the
// caller. Cancelling ctx does not abort the upload: what was written is still
// committed by Close.
func New(ctx context.Context, bucket *blob.Bucket, key string) (*Sink, error) {
	w, err := bucket.NewWriter(context.WithoutCancel(ctx), key, &blob.WriterOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return nil, fmt.Errorf("resultfile: create %s: %w", key, err)
	}
	return &Sink{
		bucket: bucket,
		key:    key,
		w:      w,
		sum:    sha256.New(),
	}, nil
}

// Key returns the object key.
func (s *Sink) Key() string {
	return s.key
}

// Write appends text as one unit.
func (s *Sink) Write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	n, err := io.WriteString(io.MultiWriter(s.w, s.sum), text)
	s.written += int64(n)
	if err != nil {
		return fmt.Errorf("resultfile: write %s: %w", s.key, err)
	}
	return nil
}

// Size returns the number of bytes written.
func (s *Sink) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Checksum returns the hex SHA-256 of everything written so far.
func (s *Sink) Checksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hex.EncodeToString(s.sum.Sum(nil))
}

// Close commits the object. Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("resultfile: commit %s: %w", s.key, err)
	}
	return nil
}

// RemoveIfEmpty deletes the committed object if nothing was written to it
// and reports whether it did. The sink must be closed.
func (s *Sink) RemoveIfEmpty(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		return false, errors.New("resultfile: sink is still open")
	}
	if s.written > 0 {
		return false, nil
	}
	if err := s.bucket.Delete(ctx, s.key); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("resultfile: delete %s: %w", s.key, err)
	}
	return true, nil
}

// Release closes the bucket if the sink opened it.
func (s *Sink) Release() error {
	if !s.ownsBucket {
		return nil
	}
	return s.bucket.Close()
}

// Buffer collects results of one worker between flushes. It is not safe for
// concurrent use.
type Buffer struct {
	sink  *Sink
	lines []string
}

// NewBuffer returns an empty buffer flushing into s.
func (s *Sink) NewBuffer() *Buffer {
	return &Buffer{sink: s}
}

// Add queues a result line.
func (b *Buffer) Add(line string) {
	b.lines = append(b.lines, line)
}

// Len returns the number of queued lines.
func (b *Buffer) Len() int {
	return len(b.lines)
}

// Flush writes the queued lines to the sink in one piece, each followed by a
// newline, and empties the buffer.
func (b *Buffer) Flush() error {
	if len(b.lines) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, l := range b.lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	if err := b.sink.Write(sb.String()); err != nil {
		return err
	}
	b.lines = b.lines[:0]
	return nil
}
