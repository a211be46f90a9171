package encoder

import (
	"regexp"
	"strings"
)

// EventKind classifies a stderr line the supervisor cares about.
type EventKind int

const (
	// InputOpened means the capture device delivered its stream header.
	InputOpened EventKind = iota + 1
	// SegmentOpened means the archival muxer started a new segment file.
	SegmentOpened
	// ArchiveFailed means the archival output stopped accepting writes.
	ArchiveFailed
	// StreamFailed means the HLS output stopped accepting writes.
	StreamFailed
)

func (k EventKind) String() string {
	switch k {
	case InputOpened:
		return "input_opened"
	case SegmentOpened:
		return "segment_opened"
	case ArchiveFailed:
		return "archive_failed"
	case StreamFailed:
		return "stream_failed"
	default:
		return "unknown"
	}
}

// Event is a parsed stderr line.
type Event struct {
	Kind EventKind
	Path string
	Line string
}

var (
	inputOpenedRe = regexp.MustCompile(`^Input #0, .* from '(.*)':?\s*$`)
	openingRe     = regexp.MustCompile(`Opening '([^']+)' for writing`)
	slaveFailedRe = regexp.MustCompile(`Slave muxer #(\d+) failed`)
	slaveNamedRe  = regexp.MustCompile(`Slave '([^']*)':`)
)

// Parser turns ffmpeg stderr lines into events. The tee muxer numbers its
// slaves in argument order: 0 is the archival segmenter, 1 is HLS.
type Parser struct {
	SpoolDir string
}

// Parse classifies one line. ok is false for lines that carry no event.
func (p Parser) Parse(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	if m := inputOpenedRe.FindStringSubmatch(line); m != nil {
		return Event{Kind: InputOpened, Path: m[1], Line: line}, true
	}
	if m := openingRe.FindStringSubmatch(line); m != nil {
		if strings.HasSuffix(m[1], ".mp4") && p.inSpool(m[1]) {
			return Event{Kind: SegmentOpened, Path: m[1], Line: line}, true
		}
		return Event{}, false
	}
	if m := slaveFailedRe.FindStringSubmatch(line); m != nil {
		if m[1] == "0" {
			return Event{Kind: ArchiveFailed, Line: line}, true
		}
		return Event{Kind: StreamFailed, Line: line}, true
	}
	if m := slaveNamedRe.FindStringSubmatch(line); m != nil && strings.Contains(strings.ToLower(line), "error") {
		if p.inSpool(m[1]) || strings.HasSuffix(m[1], ".mp4") {
			return Event{Kind: ArchiveFailed, Path: m[1], Line: line}, true
		}
		return Event{Kind: StreamFailed, Path: m[1], Line: line}, true
	}
	if strings.HasPrefix(line, "[segment @") && segmentError(line) {
		return Event{Kind: ArchiveFailed, Line: line}, true
	}
	if strings.HasPrefix(line, "[hls @") && segmentError(line) {
		return Event{Kind: StreamFailed, Line: line}, true
	}
	return Event{}, false
}

func (p Parser) inSpool(path string) bool {
	if p.SpoolDir == "" {
		return true
	}
	return strings.HasPrefix(path, strings.TrimRight(p.SpoolDir, "/")+"/")
}

func segmentError(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "failed to open") ||
		strings.Contains(lower, "error writing") ||
		strings.Contains(lower, "no space left") ||
		strings.Contains(lower, "input/output error")
}
