// Package encoder builds the single ffmpeg invocation that feeds both the
// archival segmenter and the live HLS segmenter, and supervises the
// resulting process.
package encoder

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// SegmentListName is the csv list the segment muxer appends one line to
	// per closed archival segment.
	SegmentListName = "segments.csv"
	// PlaylistName is the live HLS playlist.
	PlaylistName = "stream.m3u8"
	// StreamSegmentPattern names the rolling HLS segments.
	StreamSegmentPattern = "segment_%05d.ts"
)

// Params is everything Args needs. Durations are whole seconds.
type Params struct {
	Binary string

	VideoDevice string
	InputFormat string
	VideoSize   string
	Framerate   int

	AudioEnabled    bool
	AudioDevice     string
	AudioSampleRate int
	AudioChannels   int

	VideoCodec       string
	Bitrate          string
	Maxrate          string
	Bufsize          string
	Preset           string
	Tune             string
	Profile          string
	PixelFormat      string
	KeyframeInterval int
	AudioCodec       string
	AudioBitrate     string

	// Filter is the -vf chain; empty disables video filtering.
	Filter string

	DeviceID              string
	SpoolDir              string
	ArchiveSegmentSeconds int

	StreamDir            string
	StreamSegmentSeconds int
	StreamListSize       int
}

// SegmentListPath returns the csv segment list inside the spool.
func SegmentListPath(spoolDir string) string {
	return filepath.Join(spoolDir, SegmentListName)
}

// PlaylistPath returns the HLS playlist location.
func PlaylistPath(streamDir string) string {
	return filepath.Join(streamDir, PlaylistName)
}

// ArchiveNameTemplate is the strftime pattern for archival segment files.
func ArchiveNameTemplate(deviceID string) string {
	return "%Y%m%d_%H%M%S_" + deviceID + ".mp4"
}

// ArchiveGlob matches archival segment files produced for deviceID.
func ArchiveGlob(deviceID string) string {
	return "*_" + deviceID + ".mp4"
}

// Args returns the ffmpeg arguments, without the binary, for one capture
// run: a single encode whose packets the tee muxer fans out to both
// outputs.
func Args(p Params) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "info"}

	args = append(args,
		"-f", "v4l2",
		"-input_format", p.InputFormat,
		"-video_size", p.VideoSize,
		"-framerate", strconv.Itoa(p.Framerate),
		"-i", p.VideoDevice,
	)
	if p.AudioEnabled {
		args = append(args,
			"-f", "alsa",
			"-channels", strconv.Itoa(p.AudioChannels),
			"-sample_rate", strconv.Itoa(p.AudioSampleRate),
			"-i", p.AudioDevice,
		)
	}

	if p.Filter != "" {
		args = append(args, "-vf", p.Filter)
	}
	args = append(args, "-map", "0:v")
	if p.AudioEnabled {
		args = append(args, "-map", "1:a")
	}

	gop := strconv.Itoa(p.Framerate * p.KeyframeInterval)
	args = append(args,
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
	)
	if p.Tune != "" {
		args = append(args, "-tune", p.Tune)
	}
	args = append(args,
		"-profile:v", p.Profile,
		"-pix_fmt", p.PixelFormat,
		"-b:v", p.Bitrate,
		"-maxrate", p.Maxrate,
		"-bufsize", p.Bufsize,
		"-g", gop,
		"-keyint_min", gop,
		"-sc_threshold", "0",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", p.KeyframeInterval),
	)
	if p.AudioEnabled {
		args = append(args, "-c:a", p.AudioCodec, "-b:a", p.AudioBitrate)
	}

	args = append(args, "-flags", "+global_header", "-f", "tee", teeOutputs(p))
	return args
}

func teeOutputs(p Params) string {
	archive := slave([]string{
		"f=segment",
		"segment_time=" + strconv.Itoa(p.ArchiveSegmentSeconds),
		"segment_format=mp4",
		"reset_timestamps=1",
		"strftime=1",
		"segment_list=" + escape(SegmentListPath(p.SpoolDir)),
		"segment_list_type=csv",
		"onfail=ignore",
	}, filepath.Join(p.SpoolDir, ArchiveNameTemplate(p.DeviceID)))

	stream := slave([]string{
		"f=hls",
		"hls_time=" + strconv.Itoa(p.StreamSegmentSeconds),
		"hls_list_size=" + strconv.Itoa(p.StreamListSize),
		"hls_flags=delete_segments+omit_endlist",
		"hls_segment_filename=" + escape(filepath.Join(p.StreamDir, StreamSegmentPattern)),
	}, PlaylistPath(p.StreamDir))

	return archive + "|" + stream
}

func slave(opts []string, target string) string {
	return "[" + strings.Join(opts, ":") + "]" + escape(target)
}

// escape protects tee separators inside a path.
func escape(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '\\', ':', '|', '[', ']':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
