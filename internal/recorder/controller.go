// Package recorder supervises the capture pipeline: one encoder process
// feeding archival segments and a live stream, plus the monitors around it.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"picam/internal/capture"
	"picam/internal/encoder"
	"picam/internal/gnss"
	"picam/internal/indicator"
	"picam/internal/journal"
	"picam/internal/logging"
	"picam/internal/metrics"
	"picam/internal/spool"
	"picam/internal/storage"
)

// Journal records pipeline history. *journal.Store implements it.
type Journal interface {
	RecordSegment(ctx context.Context, seg journal.Segment) error
	RecordTransition(ctx context.Context, tr journal.Transition) error
}

// Options wires the controller's collaborators. Nil fields fall back to
// the production implementations built from each run's PipelineConfig.
type Options struct {
	Launcher  encoder.Launcher
	Probe     storage.Probe
	GPS       gnss.Provider
	Indicator *indicator.Machine
	Journal   Journal
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Devices finds substitutes for missing capture devices.
	Devices capture.Detector
}

type snapshot struct {
	state     State
	runID     string
	startedAt time.Time
	pid       int
	restarts  int
	lastErr   string
}

// Controller owns the pipeline state machine.
type Controller struct {
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	indicator *indicator.Machine

	status atomic.Pointer[snapshot]
	active atomic.Pointer[run]

	mu          sync.Mutex
	state       State
	run         *run
	restarts    int
	lastErr     error
	procStarted time.Time
}

// NewController returns a stopped controller.
func NewController(opts Options) *Controller {
	logger := logging.NewComponentLogger(opts.Logger, "recorder")
	ind := opts.Indicator
	if ind == nil {
		ind = indicator.NewMachine(indicator.NopDriver{}, 300*time.Millisecond, logger)
	}
	c := &Controller{
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		indicator: ind,
	}
	c.status.Store(&snapshot{state: Stopped})
	c.opts.Metrics.SetPipelineState(Stopped.String(), StateNames())
	return c
}

// Start validates cfg, starts the monitors, and launches the encoder. It
// returns once the capture input is open, or with the reason it never
// opened. Starting from Failed abandons the failed run and begins afresh.
func (c *Controller) Start(ctx context.Context, cfg PipelineConfig) (Handle, error) {
	if cfg.AutoDetectDevices {
		cfg = cfg.withDetectedDevices(c.opts.Devices, c.logger)
	}
	if err := cfg.Validate(); err != nil {
		c.logger.Warn("pipeline config rejected", logging.Error(err))
		return Handle{}, err
	}

	c.mu.Lock()
	if c.state != Stopped && c.state != Failed {
		c.mu.Unlock()
		return Handle{}, ErrAlreadyRunning
	}
	prev := c.run
	r := c.newRun(ctx, cfg)
	c.run = r
	c.restarts = 0
	c.lastErr = nil
	c.procStarted = time.Time{}
	c.active.Store(r)
	c.transitionLocked(r, Starting, nil)
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	go c.supervise(r)

	select {
	case err := <-r.started:
		if err != nil {
			return Handle{}, err
		}
		c.mu.Lock()
		handle := Handle{RunID: r.id, StartedAt: c.procStarted, PID: int(r.pid.Load())}
		c.mu.Unlock()
		return handle, nil
	case <-ctx.Done():
		_ = c.Stop(context.Background())
		return Handle{}, ctx.Err()
	}
}

// Stop terminates the encoder, giving it the grace period to finalise the
// open segment, and stops every monitor. The pipeline always ends Stopped;
// the error reports whether SIGKILL was needed. If ctx ends first, Stop
// returns ctx.Err() and the teardown completes in the background.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Stopped || c.state == Stopping || c.run == nil {
		c.mu.Unlock()
		return nil
	}
	r := c.run
	c.transitionLocked(r, Stopping, nil)
	c.mu.Unlock()

	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		go func() {
			<-r.done
			_ = c.finishStop(r)
		}()
		return ctx.Err()
	}
	return c.finishStop(r)
}

// Close stops the pipeline and releases the indicator.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.indicator.Close()
	return err
}

func (c *Controller) finishStop(r *run) error {
	c.mu.Lock()
	if c.run == r {
		c.transitionLocked(r, Stopped, nil)
	}
	c.mu.Unlock()

	if !r.forced.Load() {
		return nil
	}
	err := newError(KindUngracefulStop, "stop", fmt.Sprintf("encoder ignored SIGTERM for %s", r.cfg.StopGrace), nil)
	logging.WarnWithContext(c.logger, "encoder killed after stop grace period", "encoder_killed",
		logging.RunID(r.id),
		logging.Duration("grace", r.cfg.StopGrace),
		logging.String(logging.FieldErrorHint, "the final archival segment may be truncated"),
		logging.String(logging.FieldImpact, "the last few seconds of footage may be unplayable"),
	)
	return err
}

// Status returns the latest published state without blocking.
func (c *Controller) Status() Status {
	snap := c.status.Load()
	st := Status{
		State:     snap.state,
		RunID:     snap.runID,
		StartedAt: snap.startedAt,
		PID:       snap.pid,
		Restarts:  snap.restarts,
		LastError: snap.lastErr,
		Indicator: c.indicator.Signal(),
	}
	if snap.state.capturing() && !snap.startedAt.IsZero() {
		st.Uptime = c.now().Sub(snap.startedAt)
	}
	if r := c.active.Load(); r != nil {
		st.StorageState = r.monitor.Current().State
		st.SegmentsClosed = r.closed.Load()
		st.SpoolPending = r.mover.Pending()
		st.Stream, st.StreamReady = r.stream.Stats()
		if sample, ok := r.gps.Latest(); ok {
			st.GPS, st.GPSFix = sample, sample.HasFix
		}
	}
	return st
}

// Storage returns the latest storage observation of the current run, or
// Unknown when no run has started.
func (c *Controller) Storage() storage.Event {
	if r := c.active.Load(); r != nil {
		return r.monitor.Current()
	}
	return storage.Event{State: storage.Unknown}
}

// transitionLocked moves to next and publishes the snapshot. c.mu must be held.
func (c *Controller) transitionLocked(r *run, next State, cause error) {
	prev := c.state
	if prev == next && cause == nil {
		return
	}
	c.state = next
	if cause != nil {
		c.lastErr = cause
	}
	if next == Running && prev != Degraded {
		c.procStarted = c.now()
	}

	snap := &snapshot{
		state:     next,
		runID:     r.id,
		startedAt: c.procStarted,
		pid:       int(r.pid.Load()),
		restarts:  c.restarts,
	}
	if c.lastErr != nil {
		snap.lastErr = c.lastErr.Error()
	}
	c.status.Store(snap)
	c.indicator.SetRunning(next.capturing())
	c.opts.Metrics.SetPipelineState(next.String(), StateNames())
	c.opts.Metrics.SetIndicator(c.indicator.Signal().String(), indicator.SignalNames())

	if prev != next {
		c.logger.Info("pipeline state changed",
			logging.String(logging.FieldEventType, "pipeline_state"),
			logging.RunID(r.id),
			logging.String("from", prev.String()),
			logging.String(logging.FieldState, next.String()),
		)
	}
	if c.opts.Journal != nil {
		tr := journal.Transition{RunID: r.id, State: next.String(), At: c.now()}
		if cause != nil {
			tr.Error = cause.Error()
		}
		if err := c.opts.Journal.RecordTransition(context.Background(), tr); err != nil {
			c.logger.Debug("journal transition write failed", logging.Error(err))
		}
	}
}

// ownedLocked reports whether r may still change the state. c.mu must be held.
func (c *Controller) ownedLocked(r *run) bool {
	return c.run == r && c.state != Stopping && c.state != Stopped
}

func (c *Controller) markRunning(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ownedLocked(r) {
		return
	}
	c.transitionLocked(r, Running, nil)
	c.refreshDegradedLocked(r)
}

func (c *Controller) refreshDegraded(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownedLocked(r) {
		c.refreshDegradedLocked(r)
	}
}

func (c *Controller) refreshDegradedLocked(r *run) {
	if !c.state.capturing() {
		return
	}
	if r.teeDropped.Load() || r.moverFailing.Load() {
		if c.state != Degraded {
			c.transitionLocked(r, Degraded, newError(KindArchivalWrite, "archive", r.archiveFailure(), nil))
		}
		return
	}
	if c.state == Degraded {
		c.transitionLocked(r, Running, nil)
	}
}

func (c *Controller) fail(r *run, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ownedLocked(r) {
		return
	}
	c.transitionLocked(r, Failed, cause)
}

func (c *Controller) countRestart(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ownedLocked(r) {
		return
	}
	c.restarts++
	c.opts.Metrics.IncRestarts()
	c.transitionLocked(r, Starting, nil)
}

func (c *Controller) segmentHooks(r *run) spool.Hooks {
	record := func(seg spool.Segment, status journal.SegmentStatus, path string) {
		if c.opts.Journal == nil {
			return
		}
		err := c.opts.Journal.RecordSegment(context.Background(), journal.Segment{
			RunID:     r.id,
			Name:      seg.Name,
			Path:      path,
			ClosedAt:  seg.ClosedAt,
			SizeBytes: seg.Size,
			Status:    status,
		})
		if err != nil {
			c.logger.Debug("journal segment write failed", logging.String("segment", seg.Name), logging.Error(err))
		}
	}
	return spool.Hooks{
		Closed: func(seg spool.Segment) {
			r.closed.Add(1)
			c.opts.Metrics.IncSegment("closed")
			record(seg, journal.StatusSpooled, seg.Path)
		},
		Archived: func(seg spool.Segment) {
			c.opts.Metrics.IncSegment("archived")
			record(seg, journal.StatusArchived, filepath.Join(r.cfg.ArchiveDir, seg.Name))
			if r.moverFailing.Swap(false) {
				c.refreshDegraded(r)
			}
		},
		Dropped: func(seg spool.Segment) {
			c.opts.Metrics.IncSegment("dropped")
			record(seg, journal.StatusDropped, "")
		},
		Failed: func(seg spool.Segment, err error) {
			c.opts.Metrics.IncArchiveErrors()
			r.setArchiveFailure(fmt.Sprintf("deliver %s: %v", seg.Name, err))
			if r.monitor.Current().State == storage.Present && !r.moverFailing.Swap(true) {
				c.refreshDegraded(r)
			}
		},
	}
}

func newRunID() string {
	return uuid.NewString()
}
