package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	videoSizePattern = regexp.MustCompile(`^[0-9]{2,5}x[0-9]{2,5}$`)
	ratePattern      = regexp.MustCompile(`^[0-9]+[kKmM]?$`)
	deviceIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateDevice,
		c.validateCapture,
		c.validateEncode,
		c.validateArchive,
		c.validateStream,
		c.validateOverlay,
		c.validateGPS,
		c.validateIndicator,
		c.validateStorage,
		c.validateSupervisor,
		c.validatePaths,
		c.validateLogging,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateDevice() error {
	if c.Device.ID == "" {
		return errors.New("device.id must be set")
	}
	if !deviceIDPattern.MatchString(c.Device.ID) {
		return fmt.Errorf("device.id %q may only contain letters, digits, '-' and '_'", c.Device.ID)
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.VideoDevice == "" {
		return errors.New("capture.video_device must be set")
	}
	if c.Capture.InputFormat == "" {
		return errors.New("capture.input_format must be set")
	}
	if !videoSizePattern.MatchString(c.Capture.VideoSize) {
		return fmt.Errorf("capture.video_size %q must look like 1280x720", c.Capture.VideoSize)
	}
	if c.Capture.Framerate <= 0 || c.Capture.Framerate > 120 {
		return errors.New("capture.framerate must be between 1 and 120")
	}
	if c.Capture.AudioEnabled {
		if c.Capture.AudioDevice == "" {
			return errors.New("capture.audio_device must be set when audio is enabled")
		}
		if c.Capture.AudioSampleRate <= 0 {
			return errors.New("capture.audio_sample_rate must be positive")
		}
		if c.Capture.AudioChannels <= 0 {
			return errors.New("capture.audio_channels must be positive")
		}
	}
	return nil
}

func (c *Config) validateEncode() error {
	for key, value := range map[string]string{
		"encode.bitrate": c.Encode.Bitrate,
		"encode.maxrate": c.Encode.Maxrate,
		"encode.bufsize": c.Encode.Bufsize,
	} {
		if !ratePattern.MatchString(value) {
			return fmt.Errorf("%s %q must be a number with optional k/M suffix", key, value)
		}
	}
	if strings.TrimSpace(c.Encode.VideoCodec) == "" {
		return errors.New("encode.video_codec must be set")
	}
	if strings.TrimSpace(c.Encode.Preset) == "" {
		return errors.New("encode.preset must be set")
	}
	if strings.TrimSpace(c.Encode.PixelFormat) == "" {
		return errors.New("encode.pixel_format must be set")
	}
	if c.Encode.KeyframeInterval <= 0 {
		return errors.New("encode.keyframe_interval must be positive")
	}
	if c.Capture.AudioEnabled && !ratePattern.MatchString(c.Encode.AudioBitrate) {
		return fmt.Errorf("encode.audio_bitrate %q must be a number with optional k/M suffix", c.Encode.AudioBitrate)
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.Dir == "" {
		return errors.New("archive.dir must be set")
	}
	if c.Archive.SpoolDir == "" {
		return errors.New("archive.spool_dir must be set")
	}
	if c.Archive.SpoolDir == c.Archive.Dir {
		return errors.New("archive.spool_dir must differ from archive.dir")
	}
	if c.Archive.SegmentSeconds <= 0 {
		return errors.New("archive.segment_seconds must be positive")
	}
	if c.Archive.SegmentSeconds%c.Encode.KeyframeInterval != 0 {
		return fmt.Errorf("archive.segment_seconds (%d) must be a multiple of encode.keyframe_interval (%d)",
			c.Archive.SegmentSeconds, c.Encode.KeyframeInterval)
	}
	if c.Archive.MinFreeGB < 0 {
		return errors.New("archive.min_free_gb must be >= 0")
	}
	if c.Archive.SpoolMaxMB <= 0 {
		return errors.New("archive.spool_max_mb must be positive")
	}
	return nil
}

func (c *Config) validateStream() error {
	if c.Stream.Dir == "" {
		return errors.New("stream.dir must be set")
	}
	if c.Stream.Dir == c.Archive.Dir || c.Stream.Dir == c.Archive.SpoolDir {
		return errors.New("stream.dir must be separate from archive directories")
	}
	if c.Stream.SegmentSeconds <= 0 {
		return errors.New("stream.segment_seconds must be positive")
	}
	if c.Stream.ListSize <= 0 {
		return errors.New("stream.list_size must be positive")
	}
	return nil
}

func (c *Config) validateOverlay() error {
	if !c.Overlay.Enabled {
		return nil
	}
	if c.Overlay.Dir == "" {
		return errors.New("overlay.dir must be set when overlays are enabled")
	}
	if c.Overlay.FontPath == "" {
		return errors.New("overlay.font_path must be set when overlays are enabled")
	}
	if c.Overlay.FontSize <= 0 {
		return errors.New("overlay.font_size must be positive")
	}
	for key, value := range map[string]string{
		"overlay.text_color":   c.Overlay.TextColor,
		"overlay.fix_color":    c.Overlay.FixColor,
		"overlay.no_fix_color": c.Overlay.NoFixColor,
	} {
		if strings.TrimSpace(value) == "" || strings.ContainsAny(value, ":'") {
			return fmt.Errorf("%s %q must be a plain ffmpeg color", key, value)
		}
	}
	if c.Overlay.RefreshSeconds <= 0 {
		return errors.New("overlay.refresh_seconds must be positive")
	}
	return nil
}

func (c *Config) validateGPS() error {
	if !c.GPS.Enabled {
		return nil
	}
	if c.GPS.BaudRate <= 0 {
		return errors.New("gps.baud_rate must be positive")
	}
	if c.GPS.StaleSeconds <= 0 {
		return errors.New("gps.stale_seconds must be positive")
	}
	if c.GPS.MinSatellites < 0 {
		return errors.New("gps.min_satellites must be >= 0")
	}
	return nil
}

func (c *Config) validateIndicator() error {
	switch c.Indicator.Driver {
	case "gpio":
		if c.Indicator.Pin == "" {
			return errors.New("indicator.pin must be set for the gpio driver")
		}
	case "log", "none":
	default:
		return fmt.Errorf("indicator.driver %q must be one of gpio, log, none", c.Indicator.Driver)
	}
	if c.Indicator.BlinkMS <= 0 {
		return errors.New("indicator.blink_ms must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.PollSeconds <= 0 {
		return errors.New("storage.poll_seconds must be positive")
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	s := c.Supervisor
	if s.StartupTimeoutSeconds <= 0 {
		return errors.New("supervisor.startup_timeout_seconds must be positive")
	}
	if s.StopGraceSeconds <= 0 {
		return errors.New("supervisor.stop_grace_seconds must be positive")
	}
	if s.MaxRestarts < 0 {
		return errors.New("supervisor.max_restarts must be >= 0")
	}
	if s.BackoffInitialMS <= 0 {
		return errors.New("supervisor.backoff_initial_ms must be positive")
	}
	if s.BackoffMaxSeconds*1000 < s.BackoffInitialMS {
		return errors.New("supervisor.backoff_max_seconds must not be below backoff_initial_ms")
	}
	if s.StableSeconds <= 0 {
		return errors.New("supervisor.stable_seconds must be positive")
	}
	if s.ArchiveRecoverSeconds < 0 {
		return errors.New("supervisor.archive_recover_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	return nil
}
