package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/facelookup/internal/config"
)

func TestNew_StderrOnly(t *testing.T) {
	logger, closer, err := New(config.LogConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	if logger.GetSink() == nil {
		t.Error("expected a non-nil sink")
	}
}

func TestNew_RotatingFile(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "facelookup.%Y%m%d.log")

	logger, closer, err := New(config.LogConfig{File: pattern, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Info("descriptor stored", "studentID", 42)
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log file, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "descriptor stored") {
		t.Errorf("expected log line in file, got %q", string(data))
	}
}
