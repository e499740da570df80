package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ligustah/chunkline/pkg/batch"
)

func numberedLines(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "line-%04d\n", i)
	}
	return sb.String()
}

func serveText(content string, etag *atomic.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if etag != nil {
			w.Header().Set("ETag", `"`+etag.Load().(string)+`"`)
		}
		http.ServeContent(w, r, "input.txt", time.Time{}, strings.NewReader(content))
	}
}

func readLines(t *testing.T, r batch.Reader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadLine(context.Background())
		if err == io.EOF {
			return lines
		}
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		lines = append(lines, line.Text())
	}
}

func TestIsURL(t *testing.T) {
	tests := map[string]bool{
		"http://example.com/a.txt":  true,
		"HTTPS://example.com/a.txt": true,
		"s3://bucket/a.txt":         false,
		"/data/a.txt":               false,
		"http:///a.txt":             false,
	}
	for in, want := range tests {
		if got := IsURL(in); got != want {
			t.Errorf("IsURL(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSourceReadsLines(t *testing.T) {
	content := numberedLines(10)
	server := httptest.NewServer(serveText(content, nil))
	defer server.Close()

	src := NewSource(NewClient(fastOptions()), server.URL+"/input.txt")
	defer src.Close()

	size, err := src.Size(context.Background())
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size)
	}

	r, err := batch.NewReader(context.Background(), src, batch.WithSectionSize(3))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	lines := readLines(t, r)
	if len(lines) != 10 {
		t.Fatalf("expected 10 lines, got %d", len(lines))
	}
	if lines[0] != "line-0000" || lines[9] != "line-0009" {
		t.Errorf("unexpected lines %v", lines)
	}
}

func TestSourceResumesAfterDroppedConnection(t *testing.T) {
	content := numberedLines(10)

	var mu sync.Mutex
	var ranges []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		first := len(ranges) == 1
		mu.Unlock()

		if first {
			// Promise the whole file, deliver two and a half lines.
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, content[:25])
			return
		}
		http.ServeContent(w, r, "input.txt", time.Time{}, strings.NewReader(content))
	}))
	defer server.Close()

	src := NewSource(NewClient(fastOptions()), server.URL)
	r, err := batch.NewReader(context.Background(), src, batch.WithReadRetries(2, time.Millisecond))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	lines := readLines(t, r)
	if len(lines) != 10 {
		t.Fatalf("expected 10 lines, got %d: %v", len(lines), lines)
	}
	for i, l := range lines {
		if want := fmt.Sprintf("line-%04d", i); l != want {
			t.Errorf("line %d: expected %s, got %s", i, want, l)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ranges) != 2 || ranges[0] != "bytes=0-" || ranges[1] != "bytes=20-" {
		t.Errorf("unexpected range requests %v", ranges)
	}
}

func TestSourceOpenAtEnd(t *testing.T) {
	content := numberedLines(3)
	server := httptest.NewServer(serveText(content, nil))
	defer server.Close()

	src := NewSource(NewClient(fastOptions()), server.URL)

	body, err := src.Open(context.Background(), int64(len(content)))
	if err != nil {
		t.Fatalf("Open at end: %v", err)
	}
	b, _ := io.ReadAll(body)
	body.Close()
	if len(b) != 0 {
		t.Errorf("expected empty body, got %q", string(b))
	}

	_, err = src.Open(context.Background(), int64(len(content))+10)
	if !errors.Is(err, batch.ErrSourceTruncated) {
		t.Errorf("expected ErrSourceTruncated, got %v", err)
	}
}

func TestSourceChanged(t *testing.T) {
	var etag atomic.Value
	etag.Store("v1")
	server := httptest.NewServer(serveText(numberedLines(5), &etag))
	defer server.Close()

	src := NewSource(NewClient(fastOptions()), server.URL)

	body, err := src.Open(context.Background(), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body.Close()

	etag.Store("v2")
	_, err = src.Open(context.Background(), 10)
	if !errors.Is(err, batch.ErrSourceChanged) {
		t.Errorf("expected ErrSourceChanged, got %v", err)
	}
}

func TestSourceNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	src := NewSource(NewClient(fastOptions()), server.URL+"/missing.txt")

	if _, err := src.Open(context.Background(), 0); !errors.Is(err, batch.ErrSourceNotFound) {
		t.Errorf("Open: expected ErrSourceNotFound, got %v", err)
	}
	if _, err := src.Size(context.Background()); !errors.Is(err, batch.ErrSourceNotFound) {
		t.Errorf("Size: expected ErrSourceNotFound, got %v", err)
	}

	_, err := batch.NewReader(context.Background(), src)
	be := batch.AsError(err)
	if be == nil || be.Code != batch.CodeNotFound {
		t.Errorf("expected %s, got %v", batch.CodeNotFound, err)
	}
}
