// Package procgroup runs child processes in their own process group so the
// whole tree can be signalled and reaped together.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Set configures the command to start in a new process group. It must be
// called before cmd.Start for Signal and Terminate to reach children.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Signal delivers sig to the process group led by pid. A group that is
// already gone is not an error.
func Signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}
	return nil
}

// Alive reports whether any process in the group led by pid still exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(-pid, 0) == nil
}

// Terminate sends SIGTERM to the group, waits up to grace for done to close,
// then sends SIGKILL and waits up to killWait more. It reports whether
// SIGKILL was needed. done must close when the leader has been reaped.
func Terminate(pid int, done <-chan struct{}, grace, killWait time.Duration) (forced bool, err error) {
	if pid <= 0 {
		return false, nil
	}
	if err := Signal(pid, unix.SIGTERM); err != nil {
		return false, err
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case <-done:
		return false, nil
	case <-graceTimer.C:
	}

	if err := Signal(pid, unix.SIGKILL); err != nil {
		return true, err
	}
	killTimer := time.NewTimer(killWait)
	defer killTimer.Stop()
	select {
	case <-done:
		return true, nil
	case <-killTimer.C:
		return true, ErrKillTimeout
	}
}

// ErrKillTimeout is returned when the group leader survives SIGKILL past the wait.
var ErrKillTimeout = errors.New("process group did not exit after SIGKILL")
