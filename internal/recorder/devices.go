package recorder

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"picam/internal/capture"
	"picam/internal/logging"
)

// withDetectedDevices substitutes host devices for configured ones that
// are missing: the first camera node for an absent video device, and the
// first ALSA capture PCM for an absent numeric audio device. With no
// capture PCM at all the run records video only.
func (p PipelineConfig) withDetectedDevices(d capture.Detector, logger *slog.Logger) PipelineConfig {
	if _, err := os.Stat(p.Encoder.VideoDevice); errors.Is(err, fs.ErrNotExist) {
		if found, detectErr := d.FirstVideo(); detectErr == nil {
			logging.WarnWithContext(logger, "configured camera missing; using detected device", "video_device_fallback",
				logging.String("configured", p.Encoder.VideoDevice),
				logging.String("device", found),
				logging.String(logging.FieldErrorHint, "set capture.video_device to the camera's stable path"),
			)
			p.Encoder.VideoDevice = found
		}
	}

	if !p.Encoder.AudioEnabled {
		return p
	}
	devices, err := d.AudioDevices()
	if len(devices) == 0 {
		attrs := []logging.Attr{
			logging.String("configured", p.Encoder.AudioDevice),
			logging.String(logging.FieldErrorHint, "connect a microphone or set capture.audio_enabled = false"),
			logging.String(logging.FieldImpact, "footage is recorded without sound"),
		}
		if err != nil {
			attrs = append(attrs, logging.Error(err))
		}
		logging.WarnWithContext(logger, "no audio capture device found; recording video only", "audio_device_missing", attrs...)
		p.Encoder.AudioEnabled = false
		return p
	}
	if hw, ok := capture.HardwareID(p.Encoder.AudioDevice); ok && !slices.Contains(devices, hw) {
		logging.WarnWithContext(logger, "configured audio device missing; using detected device", "audio_device_fallback",
			logging.String("configured", p.Encoder.AudioDevice),
			logging.String("device", devices[0]),
			logging.String(logging.FieldErrorHint, "set capture.audio_device to the card listed by `arecord -l`"),
		)
		p.Encoder.AudioDevice = devices[0]
	}
	return p
}
