package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"picam/internal/encoder"
	"picam/internal/gnss"
	"picam/internal/indicator"
	"picam/internal/journal"
	"picam/internal/overlay"
	"picam/internal/storage"
)

func TestStartRunStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var overlayReady bool
	var h *harness
	h = newHarness(t, func(_ int, p *fakeProcess) {
		_, err := os.Stat(overlay.FilesIn(h.cfg.OverlayDir).Timestamp)
		overlayReady = err == nil
		p.emit(encoder.InputOpened, "Input #0, video4linux2,v4l2, from '/dev/video0':")
	})

	handle, err := h.ctrl.Start(context.Background(), h.cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if handle.RunID == "" || handle.PID != 4000 || handle.StartedAt.IsZero() {
		t.Fatalf("unexpected handle %+v", handle)
	}
	if !overlayReady {
		t.Fatal("overlay files must exist before the encoder launches")
	}
	st := h.ctrl.Status()
	if st.State != Running || st.RunID != handle.RunID {
		t.Fatalf("unexpected status %+v", st)
	}
	waitFor(t, "solid indicator", func() bool { return h.ctrl.Status().Indicator == indicator.SolidOn })

	args := strings.Join(h.launcher.args[0], " ")
	if !strings.Contains(args, "-f tee") || !strings.Contains(args, "drawtext=") {
		t.Fatalf("unexpected encoder args: %s", args)
	}

	if err := h.ctrl.Close(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st = h.ctrl.Status()
	if st.State != Stopped || st.Indicator != indicator.Off {
		t.Fatalf("expected stopped and off, got %+v", st)
	}
	if h.launcher.procs[0].terms.Load() != 1 {
		t.Fatal("expected exactly one terminate")
	}
	want := []string{"starting", "running", "stopping", "stopped"}
	if got := h.journal.states(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("journal transitions %v, want %v", got, want)
	}
	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop should be a no-op: %v", err)
	}
}

func TestStartWhileRunning(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.ctrl.Start(context.Background(), h.cfg); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if h.launcher.count() != 1 {
		t.Fatal("second Start must not launch")
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.cfg
	cfg.Encoder.VideoDevice = filepath.Join(t.TempDir(), "missing")
	_, err := h.ctrl.Start(context.Background(), cfg)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Kind != KindConfigInvalid {
		t.Fatalf("expected PipelineError, got %T", err)
	}
	if h.ctrl.Status().State != Stopped || h.launcher.count() != 0 {
		t.Fatal("invalid config must not leave Stopped or launch")
	}
}

func TestStartupTimeout(t *testing.T) {
	h := newHarness(t, func(int, *fakeProcess) {})
	_, err := h.ctrl.Start(context.Background(), h.cfg)
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("expected ErrStartupTimeout, got %v", err)
	}
	st := h.ctrl.Status()
	if st.State != Failed || st.LastError == "" {
		t.Fatalf("expected Failed with error, got %+v", st)
	}
	if h.launcher.procs[0].terms.Load() == 0 {
		t.Fatal("timed out encoder must be killed")
	}
	if st.Indicator != indicator.Off {
		t.Fatalf("indicator should be off, got %v", st.Indicator)
	}
}

func TestStartupCrash(t *testing.T) {
	h := newHarness(t, func(_ int, p *fakeProcess) { p.exit(errors.New("exit status 1")) })
	_, err := h.ctrl.Start(context.Background(), h.cfg)
	if !errors.Is(err, ErrSubprocessCrashed) {
		t.Fatalf("expected ErrSubprocessCrashed, got %v", err)
	}
	var pe *PipelineError
	if !errors.As(err, &pe) || len(pe.Tail) == 0 {
		t.Fatalf("expected stderr tail on the error, got %v", err)
	}
	if h.ctrl.Status().State != Failed {
		t.Fatal("expected Failed")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	h := newHarness(t, func(_ int, p *fakeProcess) {
		p.ignoreTerm = true
		p.emit(encoder.InputOpened, "Input #0, v4l2, from '/dev/video0':")
	})
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := h.ctrl.Stop(context.Background())
	if !errors.Is(err, ErrUngracefulStop) {
		t.Fatalf("expected ErrUngracefulStop, got %v", err)
	}
	if h.ctrl.Status().State != Stopped {
		t.Fatal("stop must still end Stopped")
	}
}

// Storage removed mid-recording and reinserted: recording continues and
// only the indicator reacts.
func TestStorageRemovalDoesNotStopPipeline(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "solid", func() bool { return h.ctrl.Status().Indicator == indicator.SolidOn })

	h.probe.absent.Store(true)
	waitFor(t, "blinking", func() bool { return h.ctrl.Status().Indicator == indicator.Blinking })
	st := h.ctrl.Status()
	if st.State != Running || st.StorageState != storage.Absent {
		t.Fatalf("storage loss changed pipeline state: %+v", st)
	}

	h.probe.absent.Store(false)
	waitFor(t, "solid again", func() bool { return h.ctrl.Status().Indicator == indicator.SolidOn })
	if h.ctrl.Status().State != Running || h.launcher.count() != 1 {
		t.Fatal("encoder must not restart on storage edges")
	}
}

// The encoder crashes while running and is restarted immediately.
func TestCrashRestartsImmediately(t *testing.T) {
	h := newHarness(t, nil)
	h.cfg.BackoffInitial = time.Hour
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := <-h.launcher.launched
	firstRun := h.ctrl.Status().RunID

	first.exit(errors.New("exit status 1"))
	<-h.launcher.launched
	st := waitState(t, h.ctrl, Running)
	if st.Restarts != 1 || st.PID != 4001 {
		t.Fatalf("unexpected status after restart %+v", st)
	}
	if st.RunID != firstRun {
		t.Fatal("a restart stays within the same run")
	}
	if !strings.Contains(st.LastError, "subprocess_crashed") {
		t.Fatalf("crash should be recorded as last error, got %q", st.LastError)
	}
	states := strings.Join(h.journal.states(), ",")
	if !strings.Contains(states, "running,failed,starting,running") {
		t.Fatalf("unexpected transitions %s", states)
	}
}

func TestRestartBudgetExhausted(t *testing.T) {
	h := newHarness(t, func(n int, p *fakeProcess) {
		if n == 0 {
			p.emit(encoder.InputOpened, "Input #0, v4l2, from '/dev/video0':")
			return
		}
		p.exit(errors.New("exit status 1"))
	})
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := <-h.launcher.launched
	first.exit(errors.New("exit status 1"))

	waitFor(t, "all restarts used", func() bool { return h.launcher.count() == 1+h.cfg.MaxRestarts })
	st := waitState(t, h.ctrl, Failed)
	time.Sleep(50 * time.Millisecond)
	if h.launcher.count() != 1+h.cfg.MaxRestarts {
		t.Fatalf("expected %d launches, got %d", 1+h.cfg.MaxRestarts, h.launcher.count())
	}
	if st.LastError == "" {
		t.Fatal("terminal failure must expose the last error")
	}
	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop from Failed: %v", err)
	}
	if h.ctrl.Status().State != Stopped {
		t.Fatal("expected Stopped")
	}
}

func TestStartFromFailedBeginsFreshRun(t *testing.T) {
	calls := 0
	h := newHarness(t, func(_ int, p *fakeProcess) {
		calls++
		if calls == 1 {
			return
		}
		p.emit(encoder.InputOpened, "Input #0, v4l2, from '/dev/video0':")
	})
	if _, err := h.ctrl.Start(context.Background(), h.cfg); !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	failedRun := h.ctrl.Status().RunID
	handle, err := h.ctrl.Start(context.Background(), h.cfg)
	if err != nil {
		t.Fatalf("Start from Failed: %v", err)
	}
	if handle.RunID == failedRun {
		t.Fatal("expected a new run id")
	}
	if st := h.ctrl.Status(); st.State != Running || st.LastError != "" {
		t.Fatalf("fresh run should be clean, got %+v", st)
	}
}

func TestArchiveSlaveFailureDegradesUntilRestart(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	proc := <-h.launcher.launched
	proc.emit(encoder.ArchiveFailed, "[tee @ 0x1] Slave muxer #0 failed: No space left on device, continuing with 1/2 slaves.")
	st := waitState(t, h.ctrl, Degraded)
	if !strings.Contains(st.LastError, "archival_write") {
		t.Fatalf("expected archival error, got %q", st.LastError)
	}
	if st.Indicator != indicator.SolidOn {
		t.Fatalf("degraded still records; indicator %v", st.Indicator)
	}
	time.Sleep(30 * time.Millisecond)
	if h.ctrl.Status().State != Degraded {
		t.Fatal("a dropped tee slave stays degraded for the life of the process")
	}

	proc.exit(errors.New("exit status 1"))
	<-h.launcher.launched
	waitState(t, h.ctrl, Running)
}

func TestDeliveryFailureDegradesAndRecovers(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "present", func() bool { return h.ctrl.Status().StorageState == storage.Present })
	run := h.ctrl.active.Load()

	run.mover.Stop()
	hooks := h.ctrl.segmentHooks(run)
	hooks.Failed(spoolSegment("20261016_120000_cam0.mp4"), errors.New("input/output error"))
	waitState(t, h.ctrl, Degraded)
	hooks.Archived(spoolSegment("20261016_120000_cam0.mp4"))
	waitState(t, h.ctrl, Running)
}

func TestOverlayFollowsGPSFix(t *testing.T) {
	gps := &gnss.Static{}
	h := newHarness(t, nil, func(o *Options) { o.GPS = gps })
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	files := overlay.FilesIn(h.cfg.OverlayDir)
	read := func(path string) string {
		data, _ := os.ReadFile(path)
		return string(data)
	}
	if got := read(files.GPSNoFix); got != overlay.NoFixText {
		t.Fatalf("no-fix slot = %q", got)
	}

	gps.Set(gnss.Sample{Latitude: 21.0278, Longitude: 105.8342, Satellites: 7, HasFix: true})
	waitFor(t, "fix text", func() bool { return read(files.GPSFix) == "GPS: 21.027800, 105.834200 (7 sats)" })
	if got := strings.TrimSpace(read(files.GPSNoFix)); got != "" {
		t.Fatalf("no-fix slot should be blank once fixed, got %q", got)
	}
	if h.launcher.count() != 1 {
		t.Fatal("overlay change must not restart the encoder")
	}
}

func TestBackoffDoublesToCeiling(t *testing.T) {
	cfg := PipelineConfig{BackoffInitial: time.Second, BackoffMax: 5 * time.Second}
	b := newBackoff(cfg)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Fatalf("step %d: got %v want %v", i, got, w)
		}
	}
}

// A segment the crashed encoder never listed is delivered once the
// replacement encoder is up.
func TestCrashLeftoverSegmentArchivedAfterRestart(t *testing.T) {
	const orphan = "20261016_120000_cam0.mp4"
	var h *harness
	h = newHarness(t, func(n int, p *fakeProcess) {
		if n == 0 {
			if err := os.WriteFile(filepath.Join(h.cfg.Encoder.SpoolDir, orphan), make([]byte, 64), 0o644); err != nil {
				t.Error(err)
			}
		}
		p.emit(encoder.InputOpened, "Input #0, video4linux2,v4l2, from '/dev/video0':")
	})
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "present", func() bool { return h.ctrl.Status().StorageState == storage.Present })
	first := nextLaunch(t, h.launcher)

	first.exit(errors.New("exit status 1"))
	nextLaunch(t, h.launcher)
	waitState(t, h.ctrl, Running)

	waitFor(t, "orphan archived", func() bool {
		_, err := os.Stat(filepath.Join(h.cfg.ArchiveDir, orphan))
		return err == nil && h.journal.status(orphan) == journal.StatusArchived
	})
	if _, err := os.Stat(filepath.Join(h.cfg.Encoder.SpoolDir, orphan)); !os.IsNotExist(err) {
		t.Fatal("orphan should have left the spool")
	}
	st := h.ctrl.Status()
	if st.SegmentsClosed != 1 || st.SpoolPending != 0 {
		t.Fatalf("unexpected counters %+v", st)
	}
}

// A dropped archival output is tolerated for ArchiveRecoverAfter, then the
// encoder is recycled without spending the restart budget.
func TestDroppedArchiveOutputRecyclesEncoder(t *testing.T) {
	h := newHarness(t, nil)
	h.cfg.ArchiveRecoverAfter = 30 * time.Millisecond
	h.cfg.MaxRestarts = 0
	if _, err := h.ctrl.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	proc := nextLaunch(t, h.launcher)
	proc.emit(encoder.ArchiveFailed, "[tee @ 0x1] Slave muxer #0 failed: No space left on device, continuing with 1/2 slaves.")
	waitState(t, h.ctrl, Degraded)

	nextLaunch(t, h.launcher)
	st := waitState(t, h.ctrl, Running)
	if proc.terms.Load() != 1 {
		t.Fatalf("expected one terminate of the degraded encoder, got %d", proc.terms.Load())
	}
	if st.Restarts != 1 || st.PID != 4001 {
		t.Fatalf("unexpected status after recycle %+v", st)
	}
	states := strings.Join(h.journal.states(), ",")
	if !strings.Contains(states, "degraded,starting,running") || strings.Contains(states, "failed") {
		t.Fatalf("unexpected transitions %s", states)
	}
}

func TestStopDuringStartupReturnsCanceled(t *testing.T) {
	h := newHarness(t, func(int, *fakeProcess) {})
	h.cfg.StartupTimeout = time.Minute

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Start(context.Background(), h.cfg)
		errc <- err
	}()
	proc := nextLaunch(t, h.launcher)
	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	err := <-errc
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected a canceled start, got %v", err)
	}
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Kind != KindCanceled {
		t.Fatalf("expected KindCanceled, got %v", err)
	}
	if proc.terms.Load() == 0 {
		t.Fatal("the starting encoder must be terminated")
	}
	if h.ctrl.Status().State != Stopped {
		t.Fatalf("expected Stopped, got %v", h.ctrl.Status().State)
	}
}
