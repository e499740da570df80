//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// TextFile is a named text input served by StartTextServer.
type TextFile struct {
	Name string
	Data string
}

// GenerateRecords returns n whitespace separated records of the form
//
//	rec-000000 <i> <i*i> even|odd
//
// one per line, each terminated by "\n".
func GenerateRecords(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		parity := "even"
		if i%2 == 1 {
			parity = "odd"
		}
		fmt.Fprintf(&sb, "rec-%06d %d %d %s\n", i, i, i*i, parity)
	}
	return sb.String()
}

// StartTextServer starts an HTTP server that serves files with range
// request support and a stable ETag per path.
func StartTextServer(t *testing.T, files []TextFile) *httptest.Server {
	t.Helper()

	fileMap := make(map[string]string)
	for _, f := range files {
		fileMap["/"+f.Name] = f.Data
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := fileMap[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", fmt.Sprintf(`"%s"`, r.URL.Path))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		http.ServeContent(w, r, r.URL.Path, time.Time{}, strings.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	Bucket    string
	BucketURL string
	Endpoint  string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// Location returns an s3:// location for key that chunkline can open.
func (e *MinioEnv) Location(key string) string {
	_, query, _ := strings.Cut(e.BucketURL, "?")
	return fmt.Sprintf("s3://%s/%s?%s", e.Bucket, key, query)
}

// Upload writes data to key.
func (e *MinioEnv) Upload(t *testing.T, ctx context.Context, key, data string) {
	t.Helper()
	bucket, err := e.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()
	if err := bucket.WriteAll(ctx, key, []byte(data), nil); err != nil {
		t.Fatalf("upload %s: %v", key, err)
	}
}

// Download reads key. A missing key fails the test.
func (e *MinioEnv) Download(t *testing.T, ctx context.Context, key string) string {
	t.Helper()
	bucket, err := e.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()
	b, err := bucket.ReadAll(ctx, key)
	if err != nil {
		t.Fatalf("download %s: %v", key, err)
	}
	return string(b)
}

// StartMinioContainer starts a Minio container with a pre-created bucket.
// Returns a MinioEnv with connection information.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// Create a network for minio and mc to communicate
	networkName := fmt.Sprintf("chunkline-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minioReq := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Networks:     []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {"minio"},
		},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: minioReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucketWithMC(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}

	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	bucketURL := fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		bucketName,
		endpoint,
	)

	// gocloud reads credentials from the environment
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minioContainer,
		Bucket:    bucketName,
		BucketURL: bucketURL,
		Endpoint:  endpoint,
	}
}

// createBucketWithMC creates a bucket using a separate minio/mc container.
func createBucketWithMC(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	mcReq := testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{networkName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd: []string{
			fmt.Sprintf(
				"/usr/bin/mc alias set myminio http://minio:9000 %s %s && "+
					"/usr/bin/mc mb myminio/%s; "+
					"exit 0",
				accessKey, secretKey, bucketName,
			),
		},
		WaitingFor: wait.ForExit(),
	}

	mcContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: mcReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mcContainer.Terminate(ctx)
}

// CompareLines checks that got holds exactly the want lines, in any order.
// Workers finish sections in arbitrary order, so output order is not fixed.
func CompareLines(t *testing.T, got string, want []string) {
	t.Helper()

	counts := make(map[string]int, len(want))
	for _, w := range want {
		counts[w]++
	}

	n := 0
	sc := bufio.NewScanner(strings.NewReader(got))
	for sc.Scan() {
		line := sc.Text()
		n++
		if counts[line] == 0 {
			t.Fatalf("unexpected line %q", line)
		}
		counts[line]--
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan output: %v", err)
	}
	if n != len(want) {
		t.Fatalf("got %d lines, want %d", n, len(want))
	}
}
