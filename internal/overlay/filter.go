package overlay

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Files are the directive sources drawtext reads with reload=1.
type Files struct {
	Timestamp string
	GPSFix    string
	GPSNoFix  string
}

// FilesIn returns the directive file layout under dir.
func FilesIn(dir string) Files {
	return Files{
		Timestamp: filepath.Join(dir, "timestamp.txt"),
		GPSFix:    filepath.Join(dir, "gps_fix.txt"),
		GPSNoFix:  filepath.Join(dir, "gps_nofix.txt"),
	}
}

const margin = 10

// Filter builds the drawtext chain for -vf. The GPS line is drawn from two
// slots, one per colour, so a fix change recolours the text without
// restarting the encoder.
func Filter(style Style, files Files) string {
	parts := []string{drawtext(style, files.Timestamp, style.TextColor, fmt.Sprintf("x=%d:y=%d", margin, margin))}
	if style.GPSEnabled {
		pos := fmt.Sprintf("x=%d:y=h-th-%d", margin, margin)
		parts = append(parts,
			drawtext(style, files.GPSFix, style.FixColor, pos),
			drawtext(style, files.GPSNoFix, style.NoFixColor, pos),
		)
	}
	return strings.Join(parts, ",")
}

func drawtext(style Style, textfile, color, position string) string {
	opts := []string{
		"fontfile=" + quote(style.FontPath),
		"textfile=" + quote(textfile),
		"reload=1",
		fmt.Sprintf("fontsize=%d", style.FontSize),
		"fontcolor=" + color,
	}
	if style.BoxColor != "" {
		opts = append(opts, "box=1", "boxcolor="+style.BoxColor, "boxborderw=6")
	}
	opts = append(opts, position)
	return "drawtext=" + strings.Join(opts, ":")
}

// quote wraps a filter option value so ':' and ',' inside paths survive
// filtergraph parsing.
func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
