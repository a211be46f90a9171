package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"picam/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckCaptureDevice(t *testing.T) {
	if r := CheckCaptureDevice("/dev/null"); !r.Passed {
		t.Fatalf("/dev/null is a character device: %s", r.Detail)
	}
	file := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckCaptureDevice(file); r.Passed || !strings.Contains(r.Detail, "not a character device") {
		t.Fatalf("regular file must fail, got %+v", r)
	}
}

func TestCheckArchiveStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Archive.Dir = t.TempDir()
	cfg.Archive.RequireMount = false
	if r := CheckArchiveStorage(&cfg); !r.Passed || !strings.Contains(r.Detail, "free") {
		t.Fatalf("expected present with free space, got %+v", r)
	}
	cfg.Archive.Dir = filepath.Join(cfg.Archive.Dir, "missing")
	if r := CheckArchiveStorage(&cfg); r.Passed {
		t.Fatalf("missing archive must fail, got %+v", r)
	}
}

func TestCheckGPSPortConfigured(t *testing.T) {
	if r := CheckGPSPort(filepath.Join(t.TempDir(), "ttyUSB9")); r.Passed {
		t.Fatal("missing configured port must fail")
	}
	if r := CheckGPSPort("/dev/null"); !r.Passed {
		t.Fatalf("existing port should pass: %s", r.Detail)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatalf("expected nil, got %v", results)
	}
}

func TestRunAll_SkipsDisabledFeatures(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Capture.VideoDevice = "/dev/null"
	cfg.Archive.Dir = base
	cfg.Archive.RequireMount = false
	cfg.Archive.SpoolDir = base
	cfg.Stream.Dir = base
	cfg.Paths.StateDir = base
	cfg.Overlay.Enabled = false
	cfg.GPS.Enabled = false
	cfg.Encode.Binary = "clearly-not-ffmpeg"

	results := RunAll(context.Background(), &cfg)
	names := make(map[string]Result, len(results))
	for _, r := range results {
		names[r.Name] = r
	}
	for _, skipped := range []string{"Overlay font", "GPS receiver"} {
		if _, ok := names[skipped]; ok {
			t.Fatalf("%s should be skipped when disabled", skipped)
		}
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "FFmpeg" {
		t.Fatalf("expected only the missing encoder to fail, got %+v", failed)
	}
}
