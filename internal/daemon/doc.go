// Package daemon coordinates the long-running picam process.
//
// It wires the recording controller, the segment journal, and the optional
// metrics listener into a single lifecycle with flock-based locking so only
// one recorder owns the camera. The IPC layer and the CLI talk to the
// pipeline exclusively through the Daemon type.
//
// Keep orchestration here: capture, storage, and overlay logic live in their
// own packages while the daemon focuses on startup, shutdown, and status.
package daemon
