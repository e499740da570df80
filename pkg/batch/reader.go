package batch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ligustah/chunkline/internal/progress"
)

// Reader hands out sections and lines of an input. All methods are safe for
// concurrent use; no two callers ever observe overlapping lines.
type Reader interface {
	// ReadSection claims up to SectionSize parsed lines.
	ReadSection(ctx context.Context) (*Section, error)

	// ReadLine claims a single parsed line. It returns io.EOF at the end of
	// input and a recoverable *Error for a malformed line.
	ReadLine(ctx context.Context) (Line, error)

	// Close releases the underlying stream. Later reads fail.
	Close() error

	// Encoding returns the canonical name of the input encoding.
	Encoding() string

	// SectionSize returns the number of lines per section.
	SectionSize() int
}

// ReaderOptions configures a FileReader.
type ReaderOptions struct {
	// SectionSize is the number of parsed lines per section.
	// Default: 1000
	SectionSize int

	// IgnoreEmptyLines skips lines that contain only whitespace.
	// Default: true
	IgnoreEmptyLines bool

	// Encoding is the input encoding name.
	// Default: utf-8
	Encoding string

	// Parser turns raw lines into Lines.
	// Default: SplitParser(DefaultSeparator)
	Parser Parser

	// ReadRetries is how many times a failed read is retried after reopening
	// the source at the last consumed offset.
	// Default: 1
	ReadRetries int

	// RetryDelay is the pause before each retry.
	// Default: 1s
	RetryDelay time.Duration

	// BufferSize is the read buffer size in bytes.
	// Default: 64KiB
	BufferSize int

	// Logger receives reader events.
	Logger *slog.Logger
}

// ReaderOption is a functional option for NewReader.
type ReaderOption func(*ReaderOptions)

// WithSectionSize sets the number of lines per section.
func WithSectionSize(n int) ReaderOption {
	return func(o *ReaderOptions) { o.SectionSize = n }
}

// WithIgnoreEmptyLines controls whether blank lines are skipped.
func WithIgnoreEmptyLines(ignore bool) ReaderOption {
	return func(o *ReaderOptions) { o.IgnoreEmptyLines = ignore }
}

// WithEncoding sets the input encoding.
func WithEncoding(name string) ReaderOption {
	return func(o *ReaderOptions) { o.Encoding = name }
}

// WithParser sets the line parser.
func WithParser(p Parser) ReaderOption {
	return func(o *ReaderOptions) { o.Parser = p }
}

// WithReadRetries sets the retry count and delay for failed reads.
func WithReadRetries(retries int, delay time.Duration) ReaderOption {
	return func(o *ReaderOptions) {
		o.ReadRetries = retries
		o.RetryDelay = delay
	}
}

// WithBufferSize sets the read buffer size.
func WithBufferSize(n int) ReaderOption {
	return func(o *ReaderOptions) { o.BufferSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ReaderOption {
	return func(o *ReaderOptions) { o.Logger = l }
}

func defaultReaderOptions() ReaderOptions {
	return ReaderOptions{
		SectionSize:      1000,
		IgnoreEmptyLines: true,
		Encoding:         DefaultEncoding,
		ReadRetries:      1,
		RetryDelay:       time.Second,
		BufferSize:       64 * 1024,
	}
}

// FileReader reads lines from a Source, surviving transient failures by
// reopening the source at the offset of the last consumed line.
type FileReader struct {
	src     Source
	opts    ReaderOptions
	charset *Charset
	decode  func([]byte) (string, error)
	log     *slog.Logger

	mu       sync.Mutex
	stream   io.ReadCloser
	buf      *bufio.Reader
	offset   int64
	eof      bool
	closed   bool
	lineHook func(ctx context.Context)
}

// NewReader opens src at its start. The reader takes ownership of src and
// closes it on Close.
func NewReader(ctx context.Context, src Source, options ...ReaderOption) (*FileReader, error) {
	opts := defaultReaderOptions()
	for _, opt := range options {
		opt(&opts)
	}
	if opts.SectionSize <= 0 {
		return nil, errors.New("batch: section size must be positive")
	}
	if opts.ReadRetries < 0 {
		opts.ReadRetries = 0
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64 * 1024
	}
	if opts.Parser == nil {
		opts.Parser = SplitParser(DefaultSeparator)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	charset, err := LookupCharset(opts.Encoding)
	if err != nil {
		return nil, err
	}

	r := &FileReader{
		src:     src,
		opts:    opts,
		charset: charset,
		decode:  charset.decoder(),
		log:     opts.Logger.With("input", src.Name()),
	}
	if err := r.reset(ctx); err != nil {
		return nil, r.classify(err, 1)
	}

	r.log.Info("input encoding set", "encoding", charset.Name())
	r.log.Info("processing input by sections", "section_size", opts.SectionSize)
	return r, nil
}

// Encoding implements Reader.
func (r *FileReader) Encoding() string {
	return r.charset.Name()
}

// Charset returns the resolved input encoding.
func (r *FileReader) Charset() *Charset {
	return r.charset
}

// SectionSize implements Reader.
func (r *FileReader) SectionSize() int {
	return r.opts.SectionSize
}

// Source returns the source being read.
func (r *FileReader) Source() Source {
	return r.src
}

// Offset returns the number of bytes consumed so far.
func (r *FileReader) Offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// OnLineRead installs a hook called after every raw line is read, while the
// reader is still held. A hook that blocks pauses all readers.
func (r *FileReader) OnLineRead(hook func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lineHook = hook
}

// ReadSection implements Reader.
func (r *FileReader) ReadSection(ctx context.Context) (*Section, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errClosed(r.src.Name())
	}

	// A failed section is given back whole: the next claim reopens at its
	// first line instead of losing the lines read before the failure.
	start := r.offset
	sec := &Section{Lines: make([]Line, 0, r.opts.SectionSize)}
	for len(sec.Lines) < r.opts.SectionSize {
		raw, ok, err := r.readOneLine(ctx)
		if err != nil {
			r.offset = start
			r.drop()
			return nil, err
		}
		if !ok {
			sec.Last = true
			break
		}
		if r.opts.IgnoreEmptyLines && isBlank(raw) {
			continue
		}
		line, err := r.opts.Parser.Parse(raw)
		if err != nil {
			sec.Rejected = append(sec.Rejected, asFormatError(raw, err))
			continue
		}
		sec.Lines = append(sec.Lines, line)
	}
	return sec, nil
}

// ReadLine implements Reader.
func (r *FileReader) ReadLine(ctx context.Context) (Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Line{}, errClosed(r.src.Name())
	}

	for {
		raw, ok, err := r.readOneLine(ctx)
		if err != nil {
			return Line{}, err
		}
		if !ok {
			return Line{}, io.EOF
		}
		if r.opts.IgnoreEmptyLines && isBlank(raw) {
			continue
		}
		line, err := r.opts.Parser.Parse(raw)
		if err != nil {
			return Line{}, asFormatError(raw, err)
		}
		return line, nil
	}
}

// Close implements Reader.
func (r *FileReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.stream != nil {
		errs = append(errs, r.stream.Close())
		r.stream = nil
		r.buf = nil
	}
	errs = append(errs, r.src.Close())
	if err := errors.Join(errs...); err != nil {
		return errCloseFailed(r.src.Name(), err)
	}
	return nil
}

// readOneLine reads the next raw line, retrying failed reads. It returns
// false at the end of input. Must be called with r.mu held.
func (r *FileReader) readOneLine(ctx context.Context) (string, bool, error) {
	raw, ok, err := r.readRaw(ctx)
	if err != nil || !ok {
		return "", ok, err
	}
	if r.lineHook != nil {
		r.lineHook(ctx)
	}
	text, err := r.decode(raw)
	if err != nil {
		return string(raw), true, nil
	}
	return text, true, nil
}

// readRaw returns the next line without its terminator. Must be called with
// r.mu held.
func (r *FileReader) readRaw(ctx context.Context) ([]byte, bool, error) {
	if r.eof {
		return nil, false, nil
	}

	start := r.offset
	for try := 1; ; try++ {
		b, err := r.readBytes(ctx)
		if err == nil || (err == io.EOF && len(b) > 0) {
			r.offset = start + int64(len(b))
			if err == io.EOF {
				r.eof = true
			}
			return trimEOL(b), true, nil
		}
		if err == io.EOF {
			r.eof = true
			return nil, false, nil
		}
		if isTerminal(err) || try > r.opts.ReadRetries {
			r.log.Error("read failed", "tries", try, "offset", start, "error", err)
			r.drop()
			return nil, false, r.classify(err, try)
		}

		r.log.Warn("will retry reading",
			"try", try+1,
			"retries", r.opts.ReadRetries,
			"offset", start,
			"delay", r.opts.RetryDelay,
			"error", err,
		)
		r.drop()
		sleep(ctx, r.opts.RetryDelay)
	}
}

// readBytes reads through the next '\n', reopening the stream first if a
// previous failure dropped it.
func (r *FileReader) readBytes(ctx context.Context) ([]byte, error) {
	if r.buf == nil {
		if err := r.reset(ctx); err != nil {
			return nil, err
		}
	}
	return r.buf.ReadBytes('\n')
}

// reset (re)opens the source at the current offset.
func (r *FileReader) reset(ctx context.Context) error {
	r.drop()
	stream, err := r.src.Open(ctx, r.offset)
	if err != nil {
		return err
	}
	r.stream = stream
	r.buf = bufio.NewReaderSize(stream, r.opts.BufferSize)
	if r.offset > 0 {
		r.log.Info("skipped to resume offset", "skipped", progress.FormatBytes(r.offset))
	}
	return nil
}

// drop discards the current stream, if any.
func (r *FileReader) drop() {
	if r.stream != nil {
		_ = r.stream.Close()
	}
	r.stream = nil
	r.buf = nil
}

func (r *FileReader) classify(err error, tries int) *Error {
	name := r.src.Name()
	switch {
	case errors.Is(err, ErrSourceNotFound):
		return errNotFound(name, err)
	case errors.Is(err, ErrSourceTruncated), errors.Is(err, ErrSourceChanged):
		return errOpenFailed(name, err)
	default:
		return errReadFailed(name, tries, err)
	}
}

// CountLines counts the lines of src, skipping blank lines when the reader
// options ask for it. It is used to size line-count progress. src is not
// closed.
func CountLines(ctx context.Context, src Source, options ...ReaderOption) (int64, error) {
	r, err := NewReader(ctx, keepOpen{src}, options...)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for {
		raw, ok, err := r.readRaw(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		if r.opts.IgnoreEmptyLines && len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		n++
	}
}

// keepOpen shields a source from Close.
type keepOpen struct {
	Source
}

func (keepOpen) Close() error { return nil }

func isTerminal(err error) bool {
	return errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrSourceTruncated) ||
		errors.Is(err, ErrSourceChanged)
}

func asFormatError(raw string, err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return FormatError(raw, err)
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// sleep pauses for d. Cancelling ctx ends the pause early; it reports whether
// the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ Reader = (*FileReader)(nil)

func (r *FileReader) String() string {
	return fmt.Sprintf("FileReader(%s)", r.src.Name())
}
