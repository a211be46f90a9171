package recorder

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"picam/internal/config"
	"picam/internal/encoder"
	"picam/internal/overlay"
)

// PipelineConfig is the immutable snapshot one run is started with.
type PipelineConfig struct {
	Encoder encoder.Params

	ArchiveDir   string
	RequireMount bool
	MinFreeGB    float64
	SpoolMaxMB   int

	OverlayEnabled bool
	OverlayDir     string
	OverlayStyle   overlay.Style
	OverlayRefresh time.Duration

	GPSEnabled       bool
	GPSDevice        string
	GPSBaudRate      int
	GPSStaleAfter    time.Duration
	GPSMinSatellites int

	StoragePoll time.Duration
	Udev        bool

	StartupTimeout time.Duration
	StopGrace      time.Duration
	MaxRestarts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	StableWindow   time.Duration

	// ArchiveRecoverAfter bounds how long a dropped archival output is
	// tolerated before the encoder is recycled. Zero disables recycling.
	ArchiveRecoverAfter time.Duration

	// AutoDetectDevices replaces missing capture devices with detected ones.
	AutoDetectDevices bool

	// RelaxDeviceCheck accepts any existing path as the capture device.
	RelaxDeviceCheck bool
}

// FromConfig snapshots cfg.
func FromConfig(cfg *config.Config) PipelineConfig {
	style := overlay.Style{
		FontPath:   cfg.Overlay.FontPath,
		FontSize:   cfg.Overlay.FontSize,
		TextColor:  cfg.Overlay.TextColor,
		BoxColor:   cfg.Overlay.BoxColor,
		FixColor:   cfg.Overlay.FixColor,
		NoFixColor: cfg.Overlay.NoFixColor,
		GPSEnabled: cfg.GPS.Enabled,
	}
	params := encoder.Params{
		Binary:                cfg.Encode.Binary,
		VideoDevice:           cfg.Capture.VideoDevice,
		InputFormat:           cfg.Capture.InputFormat,
		VideoSize:             cfg.Capture.VideoSize,
		Framerate:             cfg.Capture.Framerate,
		AudioEnabled:          cfg.Capture.AudioEnabled,
		AudioDevice:           cfg.Capture.AudioDevice,
		AudioSampleRate:       cfg.Capture.AudioSampleRate,
		AudioChannels:         cfg.Capture.AudioChannels,
		VideoCodec:            cfg.Encode.VideoCodec,
		Bitrate:               cfg.Encode.Bitrate,
		Maxrate:               cfg.Encode.Maxrate,
		Bufsize:               cfg.Encode.Bufsize,
		Preset:                cfg.Encode.Preset,
		Tune:                  cfg.Encode.Tune,
		Profile:               cfg.Encode.Profile,
		PixelFormat:           cfg.Encode.PixelFormat,
		KeyframeInterval:      cfg.Encode.KeyframeInterval,
		AudioCodec:            cfg.Encode.AudioCodec,
		AudioBitrate:          cfg.Encode.AudioBitrate,
		DeviceID:              cfg.Device.ID,
		SpoolDir:              cfg.Archive.SpoolDir,
		ArchiveSegmentSeconds: cfg.Archive.SegmentSeconds,
		StreamDir:             cfg.Stream.Dir,
		StreamSegmentSeconds:  cfg.Stream.SegmentSeconds,
		StreamListSize:        cfg.Stream.ListSize,
	}
	return PipelineConfig{
		Encoder:          params,
		ArchiveDir:       cfg.Archive.Dir,
		RequireMount:     cfg.Archive.RequireMount,
		MinFreeGB:        cfg.Archive.MinFreeGB,
		SpoolMaxMB:       cfg.Archive.SpoolMaxMB,
		OverlayEnabled:   cfg.Overlay.Enabled,
		OverlayDir:       cfg.Overlay.Dir,
		OverlayStyle:     style,
		OverlayRefresh:   seconds(cfg.Overlay.RefreshSeconds),
		GPSEnabled:       cfg.GPS.Enabled,
		GPSDevice:        cfg.GPS.Device,
		GPSBaudRate:      cfg.GPS.BaudRate,
		GPSStaleAfter:    seconds(cfg.GPS.StaleSeconds),
		GPSMinSatellites: cfg.GPS.MinSatellites,
		StoragePoll:      seconds(cfg.Storage.PollSeconds),
		Udev:             cfg.Storage.Udev,
		StartupTimeout:   seconds(cfg.Supervisor.StartupTimeoutSeconds),
		StopGrace:        seconds(cfg.Supervisor.StopGraceSeconds),
		MaxRestarts:      cfg.Supervisor.MaxRestarts,
		BackoffInitial:   time.Duration(cfg.Supervisor.BackoffInitialMS) * time.Millisecond,
		BackoffMax:       seconds(cfg.Supervisor.BackoffMaxSeconds),
		StableWindow:     seconds(cfg.Supervisor.StableSeconds),

		ArchiveRecoverAfter: seconds(cfg.Supervisor.ArchiveRecoverSeconds),
		AutoDetectDevices:   cfg.Capture.AutoDetect,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Validate checks the snapshot against the host and prepares the local
// working directories. The archive directory is left alone: its absence is
// a storage state, not a configuration error.
func (p PipelineConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := p.checkDevice(); err != nil {
		add("%v", err)
	}
	if p.Encoder.Framerate <= 0 {
		add("framerate must be positive")
	}
	if p.Encoder.KeyframeInterval <= 0 {
		add("keyframe interval must be positive")
	}
	if p.Encoder.ArchiveSegmentSeconds <= 0 || p.Encoder.StreamSegmentSeconds <= 0 {
		add("segment durations must be positive")
	}
	if p.Encoder.StreamListSize <= 0 {
		add("playlist window must be positive")
	}
	if p.StartupTimeout <= 0 || p.StopGrace <= 0 {
		add("startup timeout and stop grace must be positive")
	}
	if p.ArchiveRecoverAfter < 0 {
		add("archive recovery interval must not be negative")
	}
	if p.StoragePoll <= 0 {
		add("storage poll interval must be positive")
	}
	if p.ArchiveDir == "" {
		add("archive directory is required")
	}
	if strings.TrimSpace(p.Encoder.DeviceID) == "" {
		add("device id is required")
	}

	dirs := []string{p.Encoder.SpoolDir, p.Encoder.StreamDir}
	if p.OverlayEnabled {
		dirs = append(dirs, p.OverlayDir)
	}
	for _, dir := range dirs {
		if err := ensureWritableDir(dir); err != nil {
			add("%v", err)
		}
	}
	if p.OverlayEnabled {
		if f, err := os.Open(p.OverlayStyle.FontPath); err != nil {
			add("overlay font unreadable: %v", err)
		} else {
			_ = f.Close()
		}
	}

	if len(problems) > 0 {
		return newError(KindConfigInvalid, "validate", strings.Join(problems, "; "), nil)
	}
	return nil
}

func (p PipelineConfig) checkDevice() error {
	info, err := os.Stat(p.Encoder.VideoDevice)
	if err != nil {
		return fmt.Errorf("capture device %s: %w", p.Encoder.VideoDevice, err)
	}
	if !p.RelaxDeviceCheck && info.Mode()&os.ModeCharDevice == 0 {
		return fmt.Errorf("capture device %s is not a character device", p.Encoder.VideoDevice)
	}
	return nil
}

func ensureWritableDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("working directory path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%s not writable: %w", dir, err)
	}
	return nil
}
