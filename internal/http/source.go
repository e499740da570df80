package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/ligustah/chunkline/pkg/batch"
)

// Source streams a remote text file over HTTP. It implements batch.Source:
// each Open issues an open-ended range request starting at the resume
// offset.
type Source struct {
	client *Client
	url    string

	mu   sync.Mutex
	etag string
}

// IsURL reports whether location is an http or https URL.
func IsURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	s := strings.ToLower(u.Scheme)
	return (s == "http" || s == "https") && u.Host != ""
}

// NewSource returns a source for url.
func NewSource(client *Client, url string) *Source {
	return &Source{client: client, url: url}
}

// Name implements batch.Source.
func (s *Source) Name() string {
	return s.url
}

// Size implements batch.Source.
func (s *Source) Size(ctx context.Context) (int64, error) {
	info, err := s.client.Head(ctx, s.url)
	if err != nil {
		return 0, s.wrap(err)
	}
	if info.Size < 0 {
		return 0, fmt.Errorf("%s: server did not report a content length", s.url)
	}
	return info.Size, nil
}

// Open implements batch.Source.
func (s *Source) Open(ctx context.Context, offset int64) (io.ReadCloser, error) {
	resp, err := s.client.GetFrom(ctx, s.url, offset)
	if errors.Is(err, ErrRangeNotSatisfiable) {
		// Servers reject "bytes=N-" when N equals the size, which is a
		// legitimate resume point after the last line.
		return s.openAtEnd(ctx, offset)
	}
	if err != nil {
		return nil, s.wrap(err)
	}
	if err := s.checkETag(resp.ETag); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// Close implements batch.Source.
func (s *Source) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Source) openAtEnd(ctx context.Context, offset int64) (io.ReadCloser, error) {
	info, err := s.client.Head(ctx, s.url)
	if err != nil {
		return nil, s.wrap(err)
	}
	if err := s.checkETag(info.ETag); err != nil {
		return nil, err
	}
	if info.Size != offset {
		return nil, fmt.Errorf("%s: %w (size %d, offset %d)", s.url, batch.ErrSourceTruncated, info.Size, offset)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (s *Source) checkETag(etag string) error {
	if etag == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.etag == "" {
		s.etag = etag
		return nil
	}
	if etag != s.etag {
		return fmt.Errorf("%s: %w (etag %s, was %s)", s.url, batch.ErrSourceChanged, etag, s.etag)
	}
	return nil
}

func (s *Source) wrap(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w: %v", s.url, batch.ErrSourceNotFound, err)
	}
	return fmt.Errorf("%s: %w", s.url, err)
}
