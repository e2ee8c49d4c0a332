package dmengine

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetLogOutputRedirectsLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(io.Discard)

	logger.Println("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected logger output to reach buffer, got %q", buf.String())
	}
}

func TestEnableFileLoggingWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debug.log")

	f, err := EnableFileLogging(path)
	if err != nil {
		t.Fatalf("EnableFileLogging: %v", err)
	}
	defer f.Close()
	defer SetLogOutput(io.Discard)

	logger.Println("booting")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "booting") {
		t.Errorf("log file missing expected content, got %q", string(data))
	}
}
