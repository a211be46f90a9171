package recorder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindConfigInvalid     ErrorKind = "config_invalid"
	KindStartupTimeout    ErrorKind = "startup_timeout"
	KindSubprocessCrashed ErrorKind = "subprocess_crashed"
	KindArchivalWrite     ErrorKind = "archival_write"
	KindUngracefulStop    ErrorKind = "ungraceful_stop"
	KindCanceled          ErrorKind = "canceled"
)

// Sentinels for errors.Is against a *PipelineError.
var (
	ErrConfigInvalid     = errors.New("pipeline config invalid")
	ErrStartupTimeout    = errors.New("encoder startup timed out")
	ErrSubprocessCrashed = errors.New("encoder subprocess crashed")
	ErrArchivalWrite     = errors.New("archival write failed")
	ErrUngracefulStop    = errors.New("encoder required SIGKILL to stop")
	ErrCanceled          = errors.New("pipeline stopped during startup")

	// ErrAlreadyRunning is returned by Start unless the pipeline is stopped or failed.
	ErrAlreadyRunning = errors.New("pipeline already running")
)

var kindSentinels = map[ErrorKind]error{
	KindConfigInvalid:     ErrConfigInvalid,
	KindStartupTimeout:    ErrStartupTimeout,
	KindSubprocessCrashed: ErrSubprocessCrashed,
	KindArchivalWrite:     ErrArchivalWrite,
	KindUngracefulStop:    ErrUngracefulStop,
	KindCanceled:          ErrCanceled,
}

// PipelineError reports a classified pipeline failure.
type PipelineError struct {
	Kind   ErrorKind
	Op     string
	Detail string
	// Tail holds the last encoder stderr lines when relevant.
	Tail []string
	Err  error
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Tail) > 0 {
		fmt.Fprintf(&b, " (last output: %s)", e.Tail[len(e.Tail)-1])
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *PipelineError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind ErrorKind, op, detail string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Detail: detail, Err: err}
}
