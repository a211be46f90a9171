package logging_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"picam/internal/logging"
)

func TestConsoleLoggerRendersComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "recorder").Info("pipeline running", logging.Int("pid", 42), logging.String("device", "/dev/video0"))

	line := buf.String()
	if !strings.Contains(line, "[recorder] pipeline running") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, "pid=42") || !strings.Contains(line, "device=/dev/video0") {
		t.Fatalf("expected fields, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no source at info level, got %q", line)
	}
}

func TestConsoleLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info record leaked through warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "picam.log")
	var console bytes.Buffer
	logger, closeFn, err := logging.NewWithCloser(logging.Options{Level: "info", Writer: &console, FilePath: path})
	if err != nil {
		t.Fatalf("NewWithCloser returned error: %v", err)
	}
	logging.WarnWithContext(logger, "storage absent", "storage_absent")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log file is not JSON: %v (%q)", err, data)
	}
	if record["msg"] != "storage absent" {
		t.Fatalf("unexpected msg: %v", record["msg"])
	}
	if record[logging.FieldEventType] != "storage_absent" {
		t.Fatalf("expected event_type, got %v", record[logging.FieldEventType])
	}
	if record[logging.FieldErrorHint] == nil || record[logging.FieldImpact] == nil {
		t.Fatalf("expected default hint and impact, got %v", record)
	}
	if record["level"] != "warn" {
		t.Fatalf("unexpected level: %v", record["level"])
	}
	if !strings.Contains(console.String(), "storage absent") {
		t.Fatalf("expected console copy, got %q", console.String())
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "picam-old.log")
	current := filepath.Join(dir, "picam-current.log")
	fresh := filepath.Join(dir, "picam-fresh.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, fresh, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	stale := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), dir, "picam-*.log", current, 7)
	if removed != 1 {
		t.Fatalf("expected one file removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{current, fresh, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}

func TestWarnWithContextFillsMissingFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "storage absent", "storage_absent",
		logging.String(logging.FieldImpact, "segments stay in the spool"),
		logging.RunID("run-1"),
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if record[logging.FieldEventType] != "storage_absent" {
		t.Fatalf("event_type = %v", record[logging.FieldEventType])
	}
	if record[logging.FieldErrorHint] == nil || record[logging.FieldErrorHint] == "" {
		t.Fatal("expected a default error_hint")
	}
	if record[logging.FieldImpact] != "segments stay in the spool" {
		t.Fatalf("caller impact overwritten: %v", record[logging.FieldImpact])
	}
	if record[logging.FieldRunID] != "run-1" {
		t.Fatalf("run_id = %v", record[logging.FieldRunID])
	}
}
