package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"picam/internal/capture"
	"picam/internal/config"
	"picam/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"config", "validate"}, "", configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, configPath)

	target := filepath.Join(t.TempDir(), "picam", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	requireContains(t, out, "Cameras:")
	requireContains(t, out, "picam doctor")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "", ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[capture]\nframerate = -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "validate"}, "", path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestConfigInitGuidanceFollowsDetectedHardware(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "video1"), 0)
	pcm := filepath.Join(dir, "pcm")
	if err := os.WriteFile(pcm, []byte("02-00: USB Mic : USB Mic : capture 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	devices := capture.Detector{VideoGlob: filepath.Join(dir, "video[0-9]"), PCMPath: pcm}

	var out bytes.Buffer
	writeInitGuidance(&out, config.Default(), devices)
	text := out.String()
	requireContains(t, text, "Cameras:     "+filepath.Join(dir, "video1"))
	requireContains(t, text, `capture.video_device = "`+filepath.Join(dir, "video1")+`"`)
	requireContains(t, text, `capture.audio_device = "hw:2,0"`)

	out.Reset()
	writeInitGuidance(&out, config.Default(), capture.Detector{
		VideoGlob: filepath.Join(t.TempDir(), "video[0-9]"),
		PCMPath:   filepath.Join(t.TempDir(), "pcm"),
	})
	text = out.String()
	requireContains(t, text, "Audio input: none detected")
	requireContains(t, text, "Connect a V4L2 camera")
	if strings.Contains(text, "audio_enabled") {
		t.Fatalf("no audio hint expected without a capture card: %s", text)
	}
}
