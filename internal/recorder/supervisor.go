package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"picam/internal/encoder"
	"picam/internal/hls"
	"picam/internal/indicator"
	"picam/internal/logging"
	"picam/internal/storage"
)

const tailForErrors = 10

// supervise owns the run from monitor start to teardown. It reports the
// first startup result on r.started and restarts the encoder after
// unexpected exits until the restart budget is spent.
func (c *Controller) supervise(r *run) {
	defer close(r.done)

	if err := c.startMonitors(r); err != nil {
		c.stopMonitors(r)
		c.fail(r, err)
		r.started <- err
		return
	}

	bo := newBackoff(r.cfg)
	attempt := 0
	first := true
	for {
		proc, err := c.launch(r)
		if first {
			first = false
			if err != nil {
				c.stopMonitors(r)
				c.fail(r, err)
				r.started <- err
				return
			}
			r.started <- nil
		}
		if r.ctx.Err() != nil {
			c.shutdown(r, proc)
			return
		}

		exitErr := err
		if err == nil {
			began := c.now()
			exitErr = c.watch(r, proc)
			if r.ctx.Err() != nil {
				c.shutdown(r, proc)
				return
			}
			if c.now().Sub(began) >= r.cfg.StableWindow {
				attempt = 0
				bo.Reset()
			}
		}
		c.adoptOrphans(r)

		if errors.Is(exitErr, errArchiveRecycle) {
			c.countRestart(r)
			continue
		}

		attempt++
		if attempt > r.cfg.MaxRestarts {
			c.stopMonitors(r)
			logging.ErrorWithContext(c.logger, "encoder restart budget exhausted", "encoder_restarts_exhausted",
				logging.RunID(r.id),
				logging.Int("max_restarts", r.cfg.MaxRestarts),
				logging.Error(exitErr),
				logging.String(logging.FieldErrorHint, "check the capture device and encoder output, then start again"),
				logging.String(logging.FieldImpact, "recording and streaming are stopped"),
			)
			c.fail(r, exitErr)
			return
		}
		c.fail(r, exitErr)

		var delay time.Duration
		if attempt > 1 {
			delay = bo.NextBackOff()
		}
		logging.WarnWithContext(c.logger, "encoder exited unexpectedly; restarting", "encoder_crashed",
			logging.RunID(r.id),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(exitErr),
			logging.String(logging.FieldErrorHint, "inspect the capture device and encoder stderr in the log"),
			logging.String(logging.FieldImpact, "footage is not recorded until the encoder restarts"),
		)
		if !sleepCtx(r.ctx, delay) {
			c.shutdown(r, nil)
			return
		}
		c.countRestart(r)
	}
}

// launch starts one encoder and waits for its input to open.
func (c *Controller) launch(r *run) (encoder.Process, error) {
	r.teeDropped.Store(false)
	proc, err := r.launcher.Launch(r.ctx, encoder.Args(r.params()))
	if err != nil {
		return nil, newError(KindSubprocessCrashed, "launch", "", err)
	}
	r.pid.Store(int64(proc.Pid()))

	timer := time.NewTimer(r.cfg.StartupTimeout)
	defer timer.Stop()
	events := proc.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Kind == encoder.InputOpened {
				c.markRunning(r)
				return proc, nil
			}
			c.handleEvent(r, ev)
		case <-proc.Done():
			pe := newError(KindSubprocessCrashed, "startup", "encoder exited before the input opened", proc.Err())
			pe.Tail = proc.Tail(tailForErrors)
			return nil, pe
		case <-timer.C:
			if _, err := proc.Terminate(0); err != nil {
				c.logger.Warn("kill after startup timeout failed", logging.Error(err))
			}
			pe := newError(KindStartupTimeout, "startup", fmt.Sprintf("no input after %s", r.cfg.StartupTimeout), nil)
			pe.Tail = proc.Tail(tailForErrors)
			return nil, pe
		case <-r.ctx.Done():
			c.terminate(r, proc)
			return nil, newError(KindCanceled, "startup", "pipeline stopped before the input opened", r.ctx.Err())
		}
	}
}

// errArchiveRecycle marks an exit the supervisor caused itself to bring
// a dropped archival output back. It never reaches callers.
var errArchiveRecycle = errors.New("encoder recycled to resume archival")

// watch follows a running encoder until it exits or the run is canceled.
// Once the archival output has been dropped for ArchiveRecoverAfter, the
// encoder is stopped so the next launch opens a fresh tee.
func (c *Controller) watch(r *run, proc encoder.Process) error {
	events := proc.Events()
	var recycle <-chan time.Time
	for {
		if recycle == nil && r.cfg.ArchiveRecoverAfter > 0 && r.teeDropped.Load() {
			timer := time.NewTimer(r.cfg.ArchiveRecoverAfter)
			defer timer.Stop()
			recycle = timer.C
		}
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(r, ev)
		case <-recycle:
			c.logger.Info("restarting encoder to resume archival recording",
				logging.String(logging.FieldEventType, "archive_recycle"),
				logging.RunID(r.id),
				logging.Duration("degraded_for", r.cfg.ArchiveRecoverAfter),
			)
			if _, err := proc.Terminate(r.cfg.StopGrace); err != nil {
				c.logger.Warn("encoder terminate failed", logging.Int("pid", proc.Pid()), logging.Error(err))
			}
			return errArchiveRecycle
		case <-proc.Done():
			detail := "encoder exited while recording"
			pe := newError(KindSubprocessCrashed, "run", detail, proc.Err())
			pe.Tail = proc.Tail(tailForErrors)
			return pe
		case <-r.ctx.Done():
			return nil
		}
	}
}

func (c *Controller) handleEvent(r *run, ev encoder.Event) {
	switch ev.Kind {
	case encoder.SegmentOpened:
		c.logger.Debug("archival segment opened", logging.String("segment", ev.Path))
	case encoder.ArchiveFailed:
		c.opts.Metrics.IncArchiveErrors()
		r.setArchiveFailure(ev.Line)
		r.teeDropped.Store(true)
		logging.WarnWithContext(c.logger, "archival output failed", "archive_output_failed",
			logging.RunID(r.id),
			logging.String("line", ev.Line),
			logging.String(logging.FieldErrorHint, "check free space on the spool file system"),
			logging.String(logging.FieldImpact, "segments are not recorded until the encoder restarts; streaming continues"),
		)
		c.refreshDegraded(r)
	case encoder.StreamFailed:
		logging.ErrorWithContext(c.logger, "live stream output failed", "stream_output_failed",
			logging.RunID(r.id),
			logging.String("line", ev.Line),
			logging.String(logging.FieldErrorHint, "check the stream directory file system"),
			logging.String(logging.FieldImpact, "the live playlist stops updating until the encoder restarts"),
		)
	}
}

// shutdown stops the encoder first so its final segment is listed, then
// the monitors, which deliver that segment on their way out.
func (c *Controller) shutdown(r *run, proc encoder.Process) {
	if proc != nil {
		c.terminate(r, proc)
	}
	c.stopMonitors(r)
}

func (c *Controller) terminate(r *run, proc encoder.Process) {
	forced, err := proc.Terminate(r.cfg.StopGrace)
	if forced {
		r.forced.Store(true)
	}
	if err != nil {
		c.logger.Warn("encoder terminate failed", logging.Int("pid", proc.Pid()), logging.Error(err))
	}
}

// adoptOrphans hands the mover any segment the exited encoder left in the
// spool without a list line, so it is delivered and counts toward the
// spool bound before the next encoder starts writing.
func (c *Controller) adoptOrphans(r *run) {
	if err := r.mover.Adopt(r.ctx); err != nil && r.ctx.Err() == nil {
		c.logger.Warn("spool adoption after encoder exit failed", logging.RunID(r.id), logging.Error(err))
	}
}

func (c *Controller) startMonitors(r *run) error {
	cfg := r.cfg
	events := r.monitor.Subscribe()
	if err := r.monitor.Start(r.ctx); err != nil {
		return err
	}
	r.watchers.Add(1)
	go c.followStorage(r, events)
	if r.udev != nil {
		_ = r.udev.Start(r.ctx)
	}
	if r.reader != nil {
		if err := r.reader.Start(r.ctx); err != nil {
			return err
		}
	}

	if removed, err := hls.CleanStale(cfg.Encoder.StreamDir); err != nil {
		c.logger.Warn("stale stream cleanup failed", logging.Error(err))
	} else if removed > 0 {
		c.logger.Debug("removed stale stream files", logging.Int("files", removed))
	}
	if err := r.stream.Start(r.ctx); err != nil {
		return err
	}
	if r.refresher != nil {
		if err := r.refresher.Start(r.ctx); err != nil {
			return err
		}
	}
	return r.mover.Start(r.ctx)
}

func (c *Controller) stopMonitors(r *run) {
	r.mover.Stop()
	r.stream.Stop()
	if r.refresher != nil {
		r.refresher.Stop()
	}
	if r.reader != nil {
		r.reader.Stop()
	}
	if r.udev != nil {
		r.udev.Stop()
	}
	r.monitor.Stop()
	r.watchers.Wait()
}

// followStorage applies storage edges. They drive the indicator and the
// spool, never the pipeline state.
func (c *Controller) followStorage(r *run, events <-chan storage.Event) {
	defer r.watchers.Done()
	for ev := range events {
		c.indicator.SetStorage(ev.State)
		c.opts.Metrics.SetStoragePresent(ev.State == storage.Present)
		c.opts.Metrics.SetIndicator(c.indicator.Signal().String(), indicator.SignalNames())
		if ev.State == storage.Absent && r.moverFailing.Swap(false) {
			c.refreshDegraded(r)
		}
		r.mover.Notify()
	}
}

func newBackoff(cfg PipelineConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffInitial
	b.MaxInterval = cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
