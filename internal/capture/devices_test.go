package capture

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const samplePCM = `00-00: bcm2835 Headphones : bcm2835 Headphones : playback 8
01-00: USB Audio : USB Audio : playback 1 : capture 1
02-01: I2S Mic : I2S Mic : capture 1
`

func TestParsePCMKeepsCaptureStreams(t *testing.T) {
	got, err := ParsePCM(strings.NewReader(samplePCM))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, " ") != "hw:1,0 hw:2,1" {
		t.Fatalf("ParsePCM = %v", got)
	}
}

func TestAudioDevicesMissingProcFile(t *testing.T) {
	d := Detector{PCMPath: filepath.Join(t.TempDir(), "pcm")}
	if _, err := d.AudioDevices(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestVideoDevicesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video2", "video0", "video10"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	d := Detector{VideoGlob: filepath.Join(dir, "video[0-9]")}
	got := d.VideoDevices()
	if len(got) != 2 || filepath.Base(got[0]) != "video0" || filepath.Base(got[1]) != "video2" {
		t.Fatalf("VideoDevices = %v", got)
	}
	first, err := d.FirstVideo()
	if err != nil || filepath.Base(first) != "video0" {
		t.Fatalf("FirstVideo = %q, %v", first, err)
	}

	empty := Detector{VideoGlob: filepath.Join(t.TempDir(), "video[0-9]")}
	if _, err := empty.FirstVideo(); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestHardwareID(t *testing.T) {
	cases := map[string]string{
		"hw:1,0":     "hw:1,0",
		"plughw:2,1": "hw:2,1",
		" hw:01,00 ": "hw:1,0",
	}
	for in, want := range cases {
		if got, ok := HardwareID(in); !ok || got != want {
			t.Fatalf("HardwareID(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := HardwareID("default"); ok {
		t.Fatal("named devices have no hardware id")
	}
}
