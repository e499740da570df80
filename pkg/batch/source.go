package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// ErrSourceNotFound is returned by Source implementations when the input
// does not exist.
var ErrSourceNotFound = errors.New("source not found")

// Source is a re-openable byte stream. Readers reopen it at the last
// consumed offset after an I/O failure.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string

	// Size returns the total size in bytes.
	Size(ctx context.Context) (int64, error)

	// Open returns a stream positioned at offset. It returns an error
	// wrapping ErrSourceTruncated if the source is shorter than offset,
	// ErrSourceChanged if the source was replaced since the first Open, and
	// ErrSourceNotFound if it does not exist.
	Open(ctx context.Context, offset int64) (io.ReadCloser, error)

	// Close releases the source.
	Close() error
}

// BlobSource reads an object from a gocloud.dev bucket.
type BlobSource struct {
	bucket     *blob.Bucket
	key        string
	name       string
	ownsBucket bool

	mu   sync.Mutex
	etag string
}

// NewBlobSource returns a source reading key from bucket. The bucket stays
// owned by the caller.
func NewBlobSource(bucket *blob.Bucket, key string) *BlobSource {
	return &BlobSource{bucket: bucket, key: key, name: key}
}

// OpenSource opens a source from a location string. Accepted forms:
//
//	/path/to/input.txt
//	file:///path/to/input.txt
//	s3://bucket/path/to/input.txt?region=eu-west-1
//	gs://bucket/path/to/input.txt
//
// The returned source owns its bucket and closes it on Close.
func OpenSource(ctx context.Context, location string) (*BlobSource, error) {
	bucketURL, key, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("batch: open bucket %s: %w", bucketURL, err)
	}
	return &BlobSource{
		bucket:     bucket,
		key:        key,
		name:       location,
		ownsBucket: true,
	}, nil
}

// ParseLocation separates a location into a gocloud.dev bucket URL and an
// object key. It accepts the same forms as OpenSource.
func ParseLocation(location string) (string, string, error) {
	if !strings.Contains(location, "://") {
		abs, err := filepath.Abs(location)
		if err != nil {
			return "", "", fmt.Errorf("batch: resolve %s: %w", location, err)
		}
		dir, file := filepath.Split(abs)
		return "file://" + filepath.ToSlash(dir), file, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("batch: parse location %s: %w", location, err)
	}
	if u.Scheme == "file" {
		dir, file := path.Split(u.Path)
		if file == "" {
			return "", "", fmt.Errorf("batch: location %s has no object name", location)
		}
		return "file://" + dir, file, nil
	}

	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("batch: location %s has no object key", location)
	}
	bucketURL := u.Scheme + "://" + u.Host
	if u.RawQuery != "" {
		bucketURL += "?" + u.RawQuery
	}
	return bucketURL, key, nil
}

// Name implements Source.
func (s *BlobSource) Name() string {
	return s.name
}

// Size implements Source.
func (s *BlobSource) Size(ctx context.Context) (int64, error) {
	attrs, err := s.bucket.Attributes(ctx, s.key)
	if err != nil {
		return 0, s.wrap(err)
	}
	return attrs.Size, nil
}

// Open implements Source.
func (s *BlobSource) Open(ctx context.Context, offset int64) (io.ReadCloser, error) {
	attrs, err := s.bucket.Attributes(ctx, s.key)
	if err != nil {
		return nil, s.wrap(err)
	}

	s.mu.Lock()
	if s.etag == "" {
		s.etag = attrs.ETag
	} else if attrs.ETag != "" && attrs.ETag != s.etag {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w (etag %s, was %s)", s.name, ErrSourceChanged, attrs.ETag, s.etag)
	}
	s.mu.Unlock()

	if attrs.Size < offset {
		return nil, fmt.Errorf("%s: %w (size %d, offset %d)", s.name, ErrSourceTruncated, attrs.Size, offset)
	}

	r, err := s.bucket.NewRangeReader(ctx, s.key, offset, -1, nil)
	if err != nil {
		return nil, s.wrap(err)
	}
	return r, nil
}

// Close implements Source.
func (s *BlobSource) Close() error {
	if !s.ownsBucket {
		return nil
	}
	return s.bucket.Close()
}

func (s *BlobSource) wrap(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%s: %w: %v", s.name, ErrSourceNotFound, err)
	}
	return fmt.Errorf("%s: %w", s.name, err)
}
