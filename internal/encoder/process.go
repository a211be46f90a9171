package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"picam/internal/logging"
	"picam/internal/procgroup"
)

const (
	tailLines   = 256
	eventBuffer = 64
	killWait    = 5 * time.Second
)

// Process is a running encoder.
type Process interface {
	Pid() int
	// Events delivers parsed stderr events and closes when stderr ends.
	Events() <-chan Event
	// Done closes once the process has been reaped.
	Done() <-chan struct{}
	// Err reports how the process exited; valid after Done.
	Err() error
	// Terminate signals the process group, escalating to SIGKILL after
	// grace. forced reports whether SIGKILL was needed.
	Terminate(grace time.Duration) (forced bool, err error)
	// Tail returns the newest stderr lines.
	Tail(n int) []string
}

// Launcher starts encoder processes.
type Launcher interface {
	Launch(ctx context.Context, args []string) (Process, error)
}

// ExecLauncher runs a real binary in its own process group.
type ExecLauncher struct {
	Binary string
	Parser Parser
	Logger *slog.Logger
}

// NewExecLauncher returns a launcher for binary that classifies stderr with parser.
func NewExecLauncher(binary string, parser Parser, logger *slog.Logger) *ExecLauncher {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &ExecLauncher{
		Binary: binary,
		Parser: parser,
		Logger: logging.NewComponentLogger(logger, "ffmpeg"),
	}
}

// Launch starts the process. ctx only bounds the start itself; the
// process lives until Terminate or its own exit.
func (l *ExecLauncher) Launch(ctx context.Context, args []string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(l.Binary, args...)
	procgroup.Set(cmd)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Binary, err)
	}

	p := &execProcess{
		cmd:    cmd,
		parser: l.Parser,
		logger: l.Logger.With(logging.Int("pid", cmd.Process.Pid)),
		ring:   NewLineRing(tailLines),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	p.logger.Info("encoder started",
		logging.String(logging.FieldEventType, "encoder_started"),
		logging.String("command", l.Binary+" "+strings.Join(args, " ")),
	)
	go p.run(stderr)
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	parser Parser
	logger *slog.Logger
	ring   *LineRing
	events chan Event
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }
func (p *execProcess) Events() <-chan Event { return p.events }
func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) Tail(n int) []string { return p.ring.LastN(n) }

func (p *execProcess) Terminate(grace time.Duration) (bool, error) {
	return procgroup.Terminate(p.Pid(), p.done, grace, killWait)
}

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// run drains stderr before reaping: Wait closes the pipe.
func (p *execProcess) run(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	dropped := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.ring.Add(line)
		p.logger.Debug(line)
		ev, ok := p.parser.Parse(line)
		if !ok {
			continue
		}
		select {
		case p.events <- ev:
		default:
			dropped++
		}
	}
	close(p.events)
	if dropped > 0 {
		p.logger.Debug("encoder events dropped", logging.Int("count", dropped))
	}

	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && errors.As(err, &exitErr) {
		err = fmt.Errorf("encoder exited: %s", exitErr.ProcessState.String())
	}
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// scanLines splits on '\n' and on bare '\r', which ffmpeg uses for
// in-place progress updates.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
