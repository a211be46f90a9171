// Package overlay computes the text burned into recorded frames and delivers
// it to the running encoder through files that drawtext re-reads.
package overlay

import (
	"fmt"
	"time"

	"picam/internal/gnss"
)

// TimestampLayout renders local time at a fixed width.
const TimestampLayout = "2006-01-02 15:04:05"

// NoFixText is shown while the receiver has no usable position.
const NoFixText = "GPS: No Fix"

// Style holds the overlay choices taken from configuration.
type Style struct {
	FontPath   string
	FontSize   int
	TextColor  string
	BoxColor   string
	FixColor   string
	NoFixColor string
	GPSEnabled bool
	Location   *time.Location
}

// Frame is the overlay content for one refresh.
type Frame struct {
	TimestampText string
	GPSText       string
	GPSColor      string
}

// Compose derives the overlay for now and the latest sample. It has no side
// effects: equal inputs always give an equal Frame.
func Compose(now time.Time, sample *gnss.Sample, style Style) Frame {
	loc := style.Location
	if loc == nil {
		loc = time.Local
	}
	frame := Frame{TimestampText: now.In(loc).Format(TimestampLayout)}
	if !style.GPSEnabled {
		return frame
	}
	if sample != nil && sample.HasFix {
		frame.GPSText = FormatFix(*sample)
		frame.GPSColor = style.FixColor
		return frame
	}
	frame.GPSText = NoFixText
	frame.GPSColor = style.NoFixColor
	return frame
}

// FormatFix renders a position with six decimals and the satellite count.
func FormatFix(s gnss.Sample) string {
	return fmt.Sprintf("GPS: %.6f, %.6f (%d sats)", s.Latitude, s.Longitude, s.Satellites)
}
