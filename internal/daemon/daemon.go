package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"picam/internal/config"
	"picam/internal/indicator"
	"picam/internal/journal"
	"picam/internal/logging"
	"picam/internal/metrics"
	"picam/internal/recorder"
	"picam/internal/storage"
)

// ErrLocked reports that another daemon holds the instance lock.
var ErrLocked = errors.New("another picam daemon instance is already running")

// Daemon owns the recorder and everything the control surface reads.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	ctrl    *recorder.Controller
	journal *journal.Store
	metrics *metrics.Metrics

	lockPath string
	lock     *flock.Flock
	locked   atomic.Bool
	closed   atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Pipeline      recorder.Status
	SegmentCounts map[journal.SegmentStatus]int
	JournalPath   string
	LockPath      string
	PID           int
}

// New constructs a daemon around an existing controller and journal.
func New(cfg *config.Config, store *journal.Store, ctrl *recorder.Controller, m *metrics.Metrics, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || ctrl == nil {
		return nil, errors.New("daemon requires config, journal, and controller")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		ctrl:     ctrl,
		journal:  store,
		metrics:  m,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Acquire takes the single-instance lock. It must succeed before the
// daemon touches the capture device.
func (d *Daemon) Acquire() error {
	if d.locked.Load() {
		return nil
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	d.locked.Store(true)
	return nil
}

// StartRecording starts the pipeline with the daemon's configuration.
func (d *Daemon) StartRecording(ctx context.Context) (recorder.Handle, error) {
	if !d.locked.Load() {
		return recorder.Handle{}, errors.New("daemon lock not held")
	}
	handle, err := d.ctrl.Start(ctx, recorder.FromConfig(d.cfg))
	if err != nil {
		return handle, err
	}
	d.logger.Info("recording started",
		logging.String(logging.FieldEventType, "recording_started"),
		logging.RunID(handle.RunID),
		logging.Int("pid", handle.PID),
	)
	return handle, nil
}

// StopRecording stops the pipeline. A nil error means the encoder exited
// within its grace period.
func (d *Daemon) StopRecording(ctx context.Context) error {
	err := d.ctrl.Stop(ctx)
	d.logger.Info("recording stopped", logging.String(logging.FieldEventType, "recording_stopped"))
	return err
}

// Status returns the pipeline status plus journal totals.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Pipeline:    d.ctrl.Status(),
		JournalPath: d.journal.Path(),
		LockPath:    d.lockPath,
		PID:         os.Getpid(),
	}
	counts, err := d.journal.SegmentCounts(ctx)
	if err != nil {
		d.logger.Debug("segment counts unavailable", logging.Error(err))
	}
	st.SegmentCounts = counts
	return st
}

// Storage returns the most recent storage observation.
func (d *Daemon) Storage() storage.Event {
	return d.ctrl.Storage()
}

// Indicator returns the signal currently shown on the LED.
func (d *Daemon) Indicator() indicator.Signal {
	return d.ctrl.Status().Indicator
}

// Segments lists journaled segments, newest first.
func (d *Daemon) Segments(ctx context.Context, status journal.SegmentStatus, limit int) ([]journal.Segment, error) {
	return d.journal.ListSegments(ctx, status, limit)
}

// RefreshMetrics copies point-in-time values into the metric gauges.
func (d *Daemon) RefreshMetrics() {
	st := d.ctrl.Status()
	d.metrics.SetSpoolPending(st.SpoolPending)
	d.metrics.SetStreamSegments(st.Stream.Segments)
	d.metrics.SetGPSFix(st.GPSFix)
}

// Close stops recording, releases the indicator and the lock, and closes
// the journal. It is safe to call more than once.
func (d *Daemon) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	stopErr := d.ctrl.Close(ctx)
	if d.locked.Swap(false) {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}
	if err := d.journal.Close(); err != nil {
		return errors.Join(stopErr, fmt.Errorf("close journal: %w", err))
	}
	return stopErr
}
