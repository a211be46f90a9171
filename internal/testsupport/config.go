package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"picam/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The capture device is /dev/null, the indicator is disabled, and udev and
// GPS are off so the result runs on any Linux host.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Capture.VideoDevice = "/dev/null"
	cfgVal.Capture.AutoDetect = false
	cfgVal.Archive.Dir = filepath.Join(base, "archive")
	cfgVal.Archive.SpoolDir = filepath.Join(base, "spool")
	cfgVal.Archive.RequireMount = false
	cfgVal.Archive.MinFreeGB = 0
	cfgVal.Stream.Dir = filepath.Join(base, "hls")
	cfgVal.Overlay.Dir = filepath.Join(base, "overlay")
	cfgVal.Overlay.FontPath = filepath.Join(base, "font.ttf")
	cfgVal.Indicator.Driver = "none"
	cfgVal.Storage.Udev = false
	cfgVal.GPS.Enabled = false
	cfgVal.Supervisor.Autostart = false
	cfgVal.Supervisor.StartupTimeoutSeconds = 5
	cfgVal.Supervisor.StopGraceSeconds = 2
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "state", "logs")

	WriteFile(t, cfgVal.Overlay.FontPath, 16)
	if err := os.MkdirAll(cfgVal.Archive.Dir, 0o755); err != nil {
		t.Fatalf("mkdir archive: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithDeviceID overrides the recorder id used in archive names.
func WithDeviceID(id string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Device.ID = id
	}
}

// WithMetricsBind enables the metrics listener on addr.
func WithMetricsBind(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metrics.Bind = addr
	}
}

// WithStubEncoder writes an encoder stand-in that announces an opened
// input on stderr and then idles until signalled, and points the config
// at it. Capability probes (-version, -encoders, -muxers) exit at once.
func WithStubEncoder() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\n" +
			"case \"$2\" in -version|-encoders|-muxers) exit 0 ;; esac\n" +
			"echo \"Input #0, video4linux2,v4l2, from '/dev/null':\" >&2\n" +
			"exec sleep 30\n")
		target := filepath.Join(binDir, "ffmpeg")
		if err := os.WriteFile(target, script, 0o755); err != nil {
			b.t.Fatalf("write stub encoder: %v", err)
		}
		b.cfg.Encode.Binary = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
