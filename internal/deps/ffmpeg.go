package deps

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FFmpegCapabilities lists what an ffmpeg build reports about itself.
type FFmpegCapabilities struct {
	Version  string
	Encoders map[string]bool
	Muxers   map[string]bool
}

// ProbeFFmpeg runs binary with -version, -encoders and -muxers and parses
// the listings.
func ProbeFFmpeg(ctx context.Context, binary string) (FFmpegCapabilities, error) {
	caps := FFmpegCapabilities{}
	version, err := run(ctx, binary, "-hide_banner", "-version")
	if err != nil {
		return caps, err
	}
	if line, _, _ := strings.Cut(version, "\n"); line != "" {
		caps.Version = strings.TrimSpace(line)
	}
	encoders, err := run(ctx, binary, "-hide_banner", "-encoders")
	if err != nil {
		return caps, err
	}
	caps.Encoders = parseListing(encoders)
	muxers, err := run(ctx, binary, "-hide_banner", "-muxers")
	if err != nil {
		return caps, err
	}
	caps.Muxers = parseListing(muxers)
	return caps, nil
}

// CheckFFmpeg reports whether binary can run the recording pipeline: the
// configured encoders plus the tee, segment and hls muxers.
func CheckFFmpeg(ctx context.Context, binary, videoCodec, audioCodec string) []Status {
	base := lookBinary("FFmpeg", binary, "Capture, encode and mux")
	if !base.Available {
		return []Status{base}
	}
	resolved := base.Command
	caps, err := ProbeFFmpeg(ctx, resolved)
	if err != nil {
		base.Available = false
		base.Detail = err.Error()
		return []Status{base}
	}
	base.Detail = caps.Version
	results := []Status{base}

	check := func(kind, name string, set map[string]bool) {
		st := Status{Name: fmt.Sprintf("FFmpeg %s %s", kind, name), Command: resolved, Available: set[name]}
		if !st.Available {
			st.Detail = fmt.Sprintf("%s %q not built in", kind, name)
		}
		results = append(results, st)
	}
	if videoCodec != "" {
		check("encoder", videoCodec, caps.Encoders)
	}
	if audioCodec != "" {
		check("encoder", audioCodec, caps.Encoders)
	}
	for _, muxer := range []string{"tee", "segment", "hls"} {
		check("muxer", muxer, caps.Muxers)
	}
	return results
}

func run(ctx context.Context, binary string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, binary, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", binary, strings.Join(args, " "), err)
	}
	return string(out), nil
}

// parseListing reads the name column of an ffmpeg -encoders or -muxers
// table. Rows follow a "---" separator line.
func parseListing(out string) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	inTable := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inTable {
			inTable = strings.HasPrefix(line, "--")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			names[name] = true
		}
	}
	return names
}
