package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStrings()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	targets := []struct {
		key   string
		value *string
	}{
		{"archive.dir", &c.Archive.Dir},
		{"archive.spool_dir", &c.Archive.SpoolDir},
		{"stream.dir", &c.Stream.Dir},
		{"overlay.dir", &c.Overlay.Dir},
		{"overlay.font_path", &c.Overlay.FontPath},
		{"paths.state_dir", &c.Paths.StateDir},
		{"paths.log_dir", &c.Paths.LogDir},
	}
	for _, target := range targets {
		expanded, err := expandPath(strings.TrimSpace(*target.value))
		if err != nil {
			return fmt.Errorf("%s: %w", target.key, err)
		}
		*target.value = expanded
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" && c.Paths.StateDir != "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	return nil
}

func (c *Config) normalizeStrings() {
	c.Device.ID = strings.TrimSpace(c.Device.ID)
	c.Capture.VideoDevice = strings.TrimSpace(c.Capture.VideoDevice)
	c.Capture.InputFormat = strings.TrimSpace(c.Capture.InputFormat)
	c.Capture.VideoSize = strings.ToLower(strings.TrimSpace(c.Capture.VideoSize))
	c.Capture.AudioDevice = strings.TrimSpace(c.Capture.AudioDevice)
	c.Encode.Binary = strings.TrimSpace(c.Encode.Binary)
	if c.Encode.Binary == "" {
		c.Encode.Binary = defaultEncodeBinary
	}
	c.GPS.Device = strings.TrimSpace(c.GPS.Device)
	c.Indicator.Driver = strings.ToLower(strings.TrimSpace(c.Indicator.Driver))
	c.Indicator.Pin = strings.TrimSpace(c.Indicator.Pin)
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
