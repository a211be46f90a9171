package preflight

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"picam/internal/config"
	"picam/internal/deps"
	"picam/internal/gnss"
	"picam/internal/storage"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCaptureDevice verifies that path is a readable character device.
func CheckCaptureDevice(path string) Result {
	const name = "Capture device"
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not a character device)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckArchiveStorage probes the archival destination the same way the
// storage monitor does and reports free space when it is present.
func CheckArchiveStorage(cfg *config.Config) Result {
	const name = "Archive storage"
	dir := cfg.Archive.Dir
	if err := storage.MountProbe(dir, cfg.Archive.RequireMount)(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (absent: %v)", dir, err)}
	}
	free, err := storage.FreeBytes(dir)
	if err != nil {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (present)", dir)}
	}
	floor := uint64(cfg.Archive.MinFreeGB * 1e9)
	detail := fmt.Sprintf("%s (%s free)", dir, humanize.Bytes(free))
	if floor > 0 && free < floor {
		detail = fmt.Sprintf("%s (%s free, below the %s floor; oldest recordings will be pruned)",
			dir, humanize.Bytes(free), humanize.Bytes(floor))
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckReadableFile verifies that path can be opened for reading.
func CheckReadableFile(name, path string) Result {
	f, err := os.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	_ = f.Close()
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckGPSPort resolves the receiver port: the configured one, or the
// first auto-detected candidate.
func CheckGPSPort(device string) Result {
	const name = "GPS receiver"
	if device == "" {
		port, err := gnss.DetectPort()
		if err != nil {
			return Result{Name: name, Detail: err.Error()}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (auto-detected)", port)}
	}
	if _, err := os.Stat(device); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", device, err)}
	}
	return Result{Name: name, Passed: true, Detail: device}
}

// CheckSystemDeps evaluates the external binaries for the given config.
// Both the daemon and the CLI doctor command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	audioCodec := ""
	if cfg.Capture.AudioEnabled {
		audioCodec = cfg.Encode.AudioCodec
	}
	return deps.CheckFFmpeg(ctx, cfg.Encode.Binary, cfg.Encode.VideoCodec, audioCodec)
}
