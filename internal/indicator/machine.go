// Package indicator drives the status LED from recorder and storage state.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"picam/internal/logging"
	"picam/internal/storage"
)

// Signal is the visual state of the indicator.
type Signal int32

const (
	Off Signal = iota
	SolidOn
	Blinking
)

func (s Signal) String() string {
	switch s {
	case SolidOn:
		return "solid_on"
	case Blinking:
		return "blinking"
	default:
		return "off"
	}
}

// SignalNames lists every signal name.
func SignalNames() []string {
	return []string{"off", "solid_on", "blinking"}
}

// Driver switches the physical output.
type Driver interface {
	On() error
	Off() error
}

// Evaluate maps inputs to a signal. Precedence: not running is Off; running
// with storage absent is Blinking; otherwise SolidOn.
func Evaluate(running bool, st storage.State) Signal {
	switch {
	case !running:
		return Off
	case st == storage.Absent:
		return Blinking
	default:
		return SolidOn
	}
}

// Machine holds the latest inputs and writes to the driver only when the
// evaluated signal changes. While Blinking, a timer goroutine toggles the
// output every period; it is stopped before any other signal is applied.
type Machine struct {
	driver  Driver
	period  time.Duration
	logger  *slog.Logger
	signal  atomic.Int32
	failing atomic.Bool

	mu        sync.Mutex
	running   bool
	storage   storage.State
	stopBlink context.CancelFunc
	blinkDone chan struct{}
}

// NewMachine returns a machine in the Off state. The driver is switched
// off once so the output starts from a known level.
func NewMachine(driver Driver, period time.Duration, logger *slog.Logger) *Machine {
	if driver == nil {
		driver = NopDriver{}
	}
	if period <= 0 {
		period = 300 * time.Millisecond
	}
	m := &Machine{
		driver: driver,
		period: period,
		logger: logging.NewComponentLogger(logger, "indicator"),
	}
	m.write(driver.Off)
	return m
}

// SetRunning records whether the recorder is running.
func (m *Machine) SetRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = running
	m.applyLocked(Evaluate(m.running, m.storage))
}

// SetStorage records the latest storage state.
func (m *Machine) SetStorage(st storage.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storage = st
	m.applyLocked(Evaluate(m.running, m.storage))
}

// Signal returns the current signal without blocking.
func (m *Machine) Signal() Signal {
	return Signal(m.signal.Load())
}

// Close stops any blink timer and switches the output off.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.applyLocked(Off)
}

func (m *Machine) applyLocked(next Signal) {
	current := Signal(m.signal.Load())
	if next == current {
		return
	}
	m.haltBlinkLocked()
	switch next {
	case Off:
		m.write(m.driver.Off)
	case SolidOn:
		m.write(m.driver.On)
	case Blinking:
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		m.stopBlink = cancel
		m.blinkDone = done
		go m.blink(ctx, done, current == SolidOn)
	}
	m.signal.Store(int32(next))
	m.logger.Info("indicator changed",
		logging.String(logging.FieldEventType, "indicator_changed"),
		logging.String("from", current.String()),
		logging.String("to", next.String()),
	)
}

func (m *Machine) haltBlinkLocked() {
	if m.stopBlink == nil {
		return
	}
	m.stopBlink()
	<-m.blinkDone
	m.stopBlink = nil
	m.blinkDone = nil
}

// blink toggles the output until ctx is cancelled. lit reports the level the
// output already has, so the first phase never repeats it.
func (m *Machine) blink(ctx context.Context, done chan<- struct{}, lit bool) {
	defer close(done)
	if !lit {
		m.write(m.driver.On)
		lit = true
	}
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lit {
				m.write(m.driver.Off)
			} else {
				m.write(m.driver.On)
			}
			lit = !lit
		}
	}
}

// write calls a driver operation and logs the first failure of a streak.
func (m *Machine) write(op func() error) {
	if err := op(); err != nil {
		if !m.failing.Swap(true) {
			logging.WarnWithContext(m.logger, "indicator write failed", "indicator_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check indicator.pin and gpio permissions"),
				logging.String(logging.FieldImpact, "LED may not reflect recorder state"),
			)
		}
		return
	}
	m.failing.Store(false)
}
