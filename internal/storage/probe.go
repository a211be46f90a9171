package storage

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Probe reports whether the destination is usable. A non-nil error means
// Absent and its text is kept as the reason.
type Probe func() error

// ErrNotMounted reports a directory whose filesystem is not a separate mount.
var ErrNotMounted = errors.New("not a mount point")

// MountProbe checks that dir exists, is writable, and, when requireMount is
// set, sits on a filesystem mounted at or above dir rather than on the root
// filesystem of its parent.
func MountProbe(dir string, requireMount bool) Probe {
	return func() error {
		var st unix.Stat_t
		if err := unix.Stat(dir, &st); err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
		if st.Mode&unix.S_IFMT != unix.S_IFDIR {
			return fmt.Errorf("%s is not a directory", dir)
		}
		if requireMount {
			mounted, err := onSeparateMount(st)
			if err != nil {
				return err
			}
			if !mounted {
				return fmt.Errorf("%s: %w", dir, ErrNotMounted)
			}
		}
		if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
			return fmt.Errorf("access %s: %w", dir, err)
		}
		return nil
	}
}

// onSeparateMount reports whether dir lives on a different device than the
// root filesystem. An archive directory nested inside a mounted drive
// counts as mounted; one left behind on the system disk after an unmount
// does not.
func onSeparateMount(st unix.Stat_t) (bool, error) {
	var root unix.Stat_t
	if err := unix.Stat("/", &root); err != nil {
		return false, fmt.Errorf("stat /: %w", err)
	}
	return st.Dev != root.Dev, nil
}

// FreeBytes reports the space available to unprivileged users under dir.
func FreeBytes(dir string) (uint64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(dir, &fs); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return fs.Bavail * uint64(fs.Bsize), nil
}
