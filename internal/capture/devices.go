// Package capture finds V4L2 cameras and ALSA capture devices on the host.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultVideoGlob matches /dev/video0 through /dev/video9.
	DefaultVideoGlob = "/dev/video[0-9]"
	// DefaultPCMPath lists every ALSA PCM with its capabilities.
	DefaultPCMPath = "/proc/asound/pcm"
)

// ErrNoDevice reports that detection found nothing usable.
var ErrNoDevice = errors.New("no capture device found")

// Detector enumerates capture devices. The zero value inspects the real
// host.
type Detector struct {
	VideoGlob string
	PCMPath   string
}

// VideoDevices returns the camera nodes in name order.
func (d Detector) VideoDevices() []string {
	pattern := d.VideoGlob
	if pattern == "" {
		pattern = DefaultVideoGlob
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	devices := matches[:0]
	for _, path := range matches {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			devices = append(devices, path)
		}
	}
	return devices
}

// FirstVideo returns the first camera node.
func (d Detector) FirstVideo() (string, error) {
	devices := d.VideoDevices()
	if len(devices) == 0 {
		return "", fmt.Errorf("%w: nothing matches %s", ErrNoDevice, orDefault(d.VideoGlob, DefaultVideoGlob))
	}
	return devices[0], nil
}

// AudioDevices returns the capture-capable PCMs as hw:CARD,DEVICE.
func (d Detector) AudioDevices() ([]string, error) {
	path := orDefault(d.PCMPath, DefaultPCMPath)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ParsePCM(f)
}

// ParsePCM reads /proc/asound/pcm lines such as
//
//	01-00: USB Audio : USB Audio : capture 1
//
// and returns the ones with a capture stream.
func ParsePCM(r io.Reader) ([]string, error) {
	var devices []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "capture") {
			continue
		}
		id, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		cardField, devField, ok := strings.Cut(strings.TrimSpace(id), "-")
		if !ok {
			continue
		}
		card, err1 := strconv.Atoi(cardField)
		dev, err2 := strconv.Atoi(devField)
		if err1 != nil || err2 != nil {
			continue
		}
		devices = append(devices, fmt.Sprintf("hw:%d,%d", card, dev))
	}
	return devices, scanner.Err()
}

var hwPattern = regexp.MustCompile(`^(?:plug)?hw:(\d+),(\d+)$`)

// HardwareID returns the hw:CARD,DEVICE form of a numeric ALSA device
// name, or false for named devices such as "default".
func HardwareID(device string) (string, bool) {
	m := hwPattern.FindStringSubmatch(strings.TrimSpace(device))
	if m == nil {
		return "", false
	}
	card, _ := strconv.Atoi(m[1])
	dev, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("hw:%d,%d", card, dev), true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
