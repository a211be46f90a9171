package config

const (
	defaultConfigPath = "~/.config/picam/config.toml"
	systemConfigPath  = "/etc/picam/config.toml"

	defaultDeviceID = "cam0"

	defaultVideoDevice     = "/dev/video0"
	defaultInputFormat     = "mjpeg"
	defaultVideoSize       = "1280x720"
	defaultFramerate       = 30
	defaultAudioDevice     = "hw:1,0"
	defaultAudioSampleRate = 48000
	defaultAudioChannels   = 1

	defaultEncodeBinary     = "ffmpeg"
	defaultVideoCodec       = "libx264"
	defaultBitrate          = "1200k"
	defaultMaxrate          = "1500k"
	defaultBufsize          = "3000k"
	defaultPreset           = "ultrafast"
	defaultTune             = "zerolatency"
	defaultProfile          = "main"
	defaultPixelFormat      = "yuv420p"
	defaultKeyframeInterval = 2
	defaultAudioCodec       = "aac"
	defaultAudioBitrate     = "128k"

	defaultArchiveDir            = "/media/usb/recordings"
	defaultSpoolDir              = "~/.local/share/picam/spool"
	defaultArchiveSegmentSeconds = 30
	defaultMinFreeGB             = 1.0
	defaultSpoolMaxMB            = 512

	defaultStreamDir            = "/tmp/picam_hls"
	defaultStreamSegmentSeconds = 2
	defaultStreamListSize       = 10

	defaultOverlayDir     = "/tmp/picam_overlay"
	defaultFontPath       = "/usr/share/fonts/truetype/dejavu/DejaVuSansMono.ttf"
	defaultFontSize       = 24
	defaultTextColor      = "white"
	defaultBoxColor       = "black@0.5"
	defaultFixColor       = "lime"
	defaultNoFixColor     = "yellow"
	defaultRefreshSeconds = 1

	defaultGPSBaudRate      = 9600
	defaultGPSStaleSeconds  = 5
	defaultGPSMinSatellites = 3

	defaultIndicatorDriver = "gpio"
	defaultIndicatorPin    = "GPIO26"
	defaultBlinkMS         = 300

	defaultStoragePollSeconds = 2

	defaultStartupTimeoutSeconds = 10
	defaultStopGraceSeconds      = 10
	defaultMaxRestarts           = 5
	defaultBackoffInitialMS      = 1000
	defaultBackoffMaxSeconds     = 30
	defaultStableSeconds         = 60
	defaultArchiveRecoverSeconds = 60

	defaultStateDir         = "~/.local/share/picam"
	defaultLogDir           = "~/.local/share/picam/logs"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 14
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Device: Device{ID: defaultDeviceID},
		Capture: Capture{
			VideoDevice:     defaultVideoDevice,
			InputFormat:     defaultInputFormat,
			VideoSize:       defaultVideoSize,
			Framerate:       defaultFramerate,
			AudioDevice:     defaultAudioDevice,
			AudioSampleRate: defaultAudioSampleRate,
			AudioChannels:   defaultAudioChannels,
			AutoDetect:      true,
		},
		Encode: Encode{
			Binary:           defaultEncodeBinary,
			VideoCodec:       defaultVideoCodec,
			Bitrate:          defaultBitrate,
			Maxrate:          defaultMaxrate,
			Bufsize:          defaultBufsize,
			Preset:           defaultPreset,
			Tune:             defaultTune,
			Profile:          defaultProfile,
			PixelFormat:      defaultPixelFormat,
			KeyframeInterval: defaultKeyframeInterval,
			AudioCodec:       defaultAudioCodec,
			AudioBitrate:     defaultAudioBitrate,
		},
		Archive: Archive{
			Dir:            defaultArchiveDir,
			SpoolDir:       defaultSpoolDir,
			SegmentSeconds: defaultArchiveSegmentSeconds,
			RequireMount:   true,
			MinFreeGB:      defaultMinFreeGB,
			SpoolMaxMB:     defaultSpoolMaxMB,
		},
		Stream: Stream{
			Dir:            defaultStreamDir,
			SegmentSeconds: defaultStreamSegmentSeconds,
			ListSize:       defaultStreamListSize,
		},
		Overlay: Overlay{
			Enabled:        true,
			Dir:            defaultOverlayDir,
			FontPath:       defaultFontPath,
			FontSize:       defaultFontSize,
			TextColor:      defaultTextColor,
			BoxColor:       defaultBoxColor,
			FixColor:       defaultFixColor,
			NoFixColor:     defaultNoFixColor,
			RefreshSeconds: defaultRefreshSeconds,
		},
		GPS: GPS{
			BaudRate:      defaultGPSBaudRate,
			StaleSeconds:  defaultGPSStaleSeconds,
			MinSatellites: defaultGPSMinSatellites,
		},
		Indicator: Indicator{
			Driver:  defaultIndicatorDriver,
			Pin:     defaultIndicatorPin,
			BlinkMS: defaultBlinkMS,
		},
		Storage: Storage{
			PollSeconds: defaultStoragePollSeconds,
			Udev:        true,
		},
		Supervisor: Supervisor{
			Autostart:             true,
			StartupTimeoutSeconds: defaultStartupTimeoutSeconds,
			StopGraceSeconds:      defaultStopGraceSeconds,
			MaxRestarts:           defaultMaxRestarts,
			BackoffInitialMS:      defaultBackoffInitialMS,
			BackoffMaxSeconds:     defaultBackoffMaxSeconds,
			StableSeconds:         defaultStableSeconds,
			ArchiveRecoverSeconds: defaultArchiveRecoverSeconds,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
