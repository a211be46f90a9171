package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"picam/internal/logging"
)

const subscriberBuffer = 8

// Monitor polls a Probe and publishes storage transitions.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	onTick   func(State)

	current atomic.Pointer[Event]
	trigger chan struct{}

	subsMu sync.Mutex
	subs   []chan Event

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// owned by the loop goroutine
	last State
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithClock replaces the time source used to stamp events.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithTickHook runs fn on the monitor goroutine after every probe.
func WithTickHook(fn func(State)) MonitorOption {
	return func(m *Monitor) { m.onTick = fn }
}

// NewMonitor returns a monitor polling probe every interval.
func NewMonitor(probe Probe, interval time.Duration, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	m := &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "storage"),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins polling. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("storage monitor already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.loop(loopCtx)
	return nil
}

// Stop cancels polling, waits for the loop, and closes subscriber channels.
// The loop exits at the latest after an in-flight probe returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.subsMu.Lock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.subsMu.Unlock()
}

// Subscribe returns a channel receiving every transition from now on. If a
// state is already known it is delivered first. A slow subscriber loses its
// oldest pending events, never the newest.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if ev := m.current.Load(); ev != nil {
		ch <- *ev
	}
	m.subs = append(m.subs, ch)
	return ch
}

// Current returns the latest published event; State is Unknown before the
// first probe.
func (m *Monitor) Current() Event {
	if ev := m.current.Load(); ev != nil {
		return *ev
	}
	return Event{State: Unknown}
}

// Trigger requests an early probe. It never blocks.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	m.tick()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		case <-m.trigger:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	state, reason := Present, ""
	if err := m.probe(); err != nil {
		state, reason = Absent, err.Error()
	}
	if state != m.last {
		ev := Event{State: state, Previous: m.last, Since: m.now(), Reason: reason}
		m.last = state
		m.publish(ev)
		m.logTransition(ev)
	}
	if m.onTick != nil {
		m.onTick(state)
	}
}

func (m *Monitor) publish(ev Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.current.Store(&ev)
	for _, ch := range m.subs {
		offer(ch, ev)
	}
}

func offer(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (m *Monitor) logTransition(ev Event) {
	if ev.State == Absent {
		logging.WarnWithContext(m.logger, "archival storage absent", "storage_absent",
			logging.String("previous", ev.Previous.String()),
			logging.String("reason", ev.Reason),
			logging.String(logging.FieldErrorHint, "insert or remount the recording drive"),
			logging.String(logging.FieldImpact, "segments stay in the local spool until the drive returns"),
		)
		return
	}
	m.logger.Info("archival storage present",
		logging.String(logging.FieldEventType, "storage_present"),
		logging.String("previous", ev.Previous.String()),
	)
}
