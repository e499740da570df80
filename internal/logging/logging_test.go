package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTextLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Debug("hidden")
	l.Info("shown", "lines", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line logged at info level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "lines=3") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Output: &buf, Format: "json", Level: "debug"})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Debug("detail", "offset", 42)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if rec["msg"] != "detail" || rec["offset"] != float64(42) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "chunkline.log")

	var buf bytes.Buffer
	l, err := New(Options{Output: &buf, File: path})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("to file")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(b, []byte("INFO")) || !bytes.Contains(b, []byte("to file")) {
		t.Errorf("log file content: %s", string(b))
	}
	if !bytes.Equal(b, buf.Bytes()) {
		t.Errorf("file and output differ:\n%s\n%s", b, buf.String())
	}
}

func TestNewLoggerInvalid(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}
