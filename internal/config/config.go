package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Device identifies this recorder.
type Device struct {
	ID string `toml:"id"`
}

// Capture describes the camera and optional ALSA audio inputs.
type Capture struct {
	VideoDevice     string `toml:"video_device"`
	InputFormat     string `toml:"input_format"`
	VideoSize       string `toml:"video_size"`
	Framerate       int    `toml:"framerate"`
	AudioEnabled    bool   `toml:"audio_enabled"`
	AudioDevice     string `toml:"audio_device"`
	AudioSampleRate int    `toml:"audio_sample_rate"`
	AudioChannels   int    `toml:"audio_channels"`

	// AutoDetect falls back to detected devices when the configured ones
	// are missing, and records video only without a microphone.
	AutoDetect bool `toml:"auto_detect"`
}

// Encode carries the single encode pass parameters.
type Encode struct {
	Binary           string `toml:"binary"`
	VideoCodec       string `toml:"video_codec"`
	Bitrate          string `toml:"bitrate"`
	Maxrate          string `toml:"maxrate"`
	Bufsize          string `toml:"bufsize"`
	Preset           string `toml:"preset"`
	Tune             string `toml:"tune"`
	Profile          string `toml:"profile"`
	PixelFormat      string `toml:"pixel_format"`
	KeyframeInterval int    `toml:"keyframe_interval"`
	AudioCodec       string `toml:"audio_codec"`
	AudioBitrate     string `toml:"audio_bitrate"`
}

// Archive describes the archival segment output.
type Archive struct {
	Dir            string  `toml:"dir"`
	SpoolDir       string  `toml:"spool_dir"`
	SegmentSeconds int     `toml:"segment_seconds"`
	RequireMount   bool    `toml:"require_mount"`
	MinFreeGB      float64 `toml:"min_free_gb"`
	SpoolMaxMB     int     `toml:"spool_max_mb"`
}

// Stream describes the live HLS output.
type Stream struct {
	Dir            string `toml:"dir"`
	SegmentSeconds int    `toml:"segment_seconds"`
	ListSize       int    `toml:"list_size"`
}

// Overlay configures the burned-in text.
type Overlay struct {
	Enabled        bool   `toml:"enabled"`
	Dir            string `toml:"dir"`
	FontPath       string `toml:"font_path"`
	FontSize       int    `toml:"font_size"`
	TextColor      string `toml:"text_color"`
	BoxColor       string `toml:"box_color"`
	FixColor       string `toml:"fix_color"`
	NoFixColor     string `toml:"no_fix_color"`
	RefreshSeconds int    `toml:"refresh_seconds"`
}

// GPS configures the NMEA receiver.
type GPS struct {
	Enabled       bool   `toml:"enabled"`
	Device        string `toml:"device"`
	BaudRate      int    `toml:"baud_rate"`
	StaleSeconds  int    `toml:"stale_seconds"`
	MinSatellites int    `toml:"min_satellites"`
}

// Indicator configures the status LED.
type Indicator struct {
	Driver  string `toml:"driver"`
	Pin     string `toml:"pin"`
	BlinkMS int    `toml:"blink_ms"`
}

// Storage configures the removable storage monitor.
type Storage struct {
	PollSeconds int  `toml:"poll_seconds"`
	Udev        bool `toml:"udev"`
}

// Supervisor configures subprocess supervision.
type Supervisor struct {
	Autostart             bool `toml:"autostart"`
	StartupTimeoutSeconds int  `toml:"startup_timeout_seconds"`
	StopGraceSeconds      int  `toml:"stop_grace_seconds"`
	MaxRestarts           int  `toml:"max_restarts"`
	BackoffInitialMS      int  `toml:"backoff_initial_ms"`
	BackoffMaxSeconds     int  `toml:"backoff_max_seconds"`
	StableSeconds         int  `toml:"stable_seconds"`
	ArchiveRecoverSeconds int  `toml:"archive_recover_seconds"`
}

// Paths holds daemon state locations.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Logging configures log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics configures the optional Prometheus listener.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Config is the full picam configuration.
type Config struct {
	Device     Device     `toml:"device"`
	Capture    Capture    `toml:"capture"`
	Encode     Encode     `toml:"encode"`
	Archive    Archive    `toml:"archive"`
	Stream     Stream     `toml:"stream"`
	Overlay    Overlay    `toml:"overlay"`
	GPS        GPS        `toml:"gps"`
	Indicator  Indicator  `toml:"indicator"`
	Storage    Storage    `toml:"storage"`
	Supervisor Supervisor `toml:"supervisor"`
	Paths      Paths      `toml:"paths"`
	Logging    Logging    `toml:"logging"`
	Metrics    Metrics    `toml:"metrics"`
}

// DefaultConfigPath returns the expanded default configuration location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads configuration from path (or the default locations), applies
// environment overrides, normalizes, and validates it. It returns the
// config, the resolved path, and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadEnvFile(filepath.Join(filepath.Dir(resolvedPath), envFileName)); err != nil {
		return nil, "", false, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(systemConfigPath); err == nil && !info.IsDir() {
		return systemConfigPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the daemon state directories. The archival
// directory is deliberately left alone: it lives on removable storage and
// its absence is a runtime condition, not a configuration error.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Archive.SpoolDir, c.Stream.Dir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Overlay.Enabled {
		if err := os.MkdirAll(c.Overlay.Dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", c.Overlay.Dir, err)
		}
	}
	return nil
}

// SocketPath returns the control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "picam.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "picam.lock")
}

// JournalPath returns the segment journal database location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "picam.db")
}

// PIDPath returns the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "picam.pid")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
