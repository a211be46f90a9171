package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envFileName = "picam.env"

// loadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win over the file.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) applyEnv() error {
	if value, ok := lookupEnv("PICAM_DEVICE_ID"); ok {
		c.Device.ID = value
	}
	if value, ok := lookupEnv("PICAM_VIDEO_DEVICE"); ok {
		c.Capture.VideoDevice = value
	}
	if value, ok := lookupEnv("PICAM_ARCHIVE_DIR"); ok {
		c.Archive.Dir = value
	}
	if value, ok := lookupEnv("PICAM_STREAM_DIR"); ok {
		c.Stream.Dir = value
	}
	if value, ok := lookupEnv("PICAM_GPS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("PICAM_GPS_ENABLED: %w", err)
		}
		c.GPS.Enabled = enabled
	}
	if value, ok := lookupEnv("PICAM_LOG_LEVEL"); ok {
		c.Logging.Level = value
	}
	return nil
}
