package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"picam/internal/capture"
	"picam/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand(capture.Detector{}))

	return configCmd
}

func newConfigInitCommand(devices capture.Detector) *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a starter configuration and report the capture hardware found",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(statErr, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", statErr)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n\n", target)
			writeInitGuidance(out, config.Default(), devices)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

// initTarget resolves the destination and makes sure its directory exists.
func initTarget(flagValue string) (string, error) {
	target := strings.TrimSpace(flagValue)
	if target == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		target = defaultPath
	} else {
		expanded, err := config.ExpandPath(target)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		target = expanded
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create config directory %q: %w", filepath.Dir(target), err)
	}
	return target, nil
}

// writeInitGuidance compares the sample defaults with the capture hardware
// on this board and lists what to edit before the first recording.
func writeInitGuidance(out io.Writer, defaults config.Config, devices capture.Detector) {
	cameras := devices.VideoDevices()
	cards, _ := devices.AudioDevices()

	fmt.Fprintf(out, "Cameras:     %s\n", listOrNone(cameras))
	fmt.Fprintf(out, "Audio input: %s\n", listOrNone(cards))

	var steps []string
	switch {
	case len(cameras) == 0:
		steps = append(steps, "Connect a V4L2 camera, then set capture.video_device")
	case !slices.Contains(cameras, defaults.Capture.VideoDevice):
		steps = append(steps, fmt.Sprintf("Set capture.video_device = %q (the default %s is absent)", cameras[0], defaults.Capture.VideoDevice))
	}
	if len(cards) > 0 {
		steps = append(steps, fmt.Sprintf("To record sound, set capture.audio_enabled = true and capture.audio_device = %q", cards[0]))
	}
	steps = append(steps,
		fmt.Sprintf("Point archive.dir at the recording drive mount (default %s)", defaults.Archive.Dir),
		"Run `picam doctor` to check ffmpeg, storage, overlay font, and GPS",
		"Run `picam run` in the foreground, or under systemd for autostart at boot",
	)

	fmt.Fprintln(out, "\nNext steps:")
	for i, step := range steps {
		fmt.Fprintf(out, "  %d. %s\n", i+1, step)
	}
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "none detected"
	}
	return strings.Join(values, ", ")
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintf(out, "Device:      %s (%s)\n", cfg.Device.ID, cfg.Capture.VideoDevice)
			fmt.Fprintf(out, "Audio:       %s\n", audioSummary(cfg))
			fmt.Fprintf(out, "Archive:     %s\n", cfg.Archive.Dir)
			fmt.Fprintf(out, "Overlay:     %s\n", yesNo(cfg.Overlay.Enabled))
			fmt.Fprintf(out, "GPS:         %s\n", yesNo(cfg.GPS.Enabled))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func audioSummary(cfg *config.Config) string {
	if !cfg.Capture.AudioEnabled {
		return "off"
	}
	return cfg.Capture.AudioDevice
}
