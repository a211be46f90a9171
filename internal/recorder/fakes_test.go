package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"picam/internal/encoder"
	"picam/internal/indicator"
	"picam/internal/journal"
	"picam/internal/overlay"
	"picam/internal/spool"
	"picam/internal/storage"
)

type fakeProcess struct {
	pid        int
	events     chan encoder.Event
	done       chan struct{}
	once       sync.Once
	err        error
	ignoreTerm bool
	terms      atomic.Int32
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, events: make(chan encoder.Event, 16), done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int                     { return p.pid }
func (p *fakeProcess) Events() <-chan encoder.Event { return p.events }
func (p *fakeProcess) Done() <-chan struct{}        { return p.done }
func (p *fakeProcess) Tail(int) []string            { return []string{"fake encoder output"} }

func (p *fakeProcess) Err() error {
	<-p.done
	return p.err
}

func (p *fakeProcess) Terminate(time.Duration) (bool, error) {
	p.terms.Add(1)
	if p.ignoreTerm {
		p.exit(errors.New("signal: killed"))
		return true, nil
	}
	p.exit(nil)
	return false, nil
}

func (p *fakeProcess) emit(kind encoder.EventKind, line string) {
	p.events <- encoder.Event{Kind: kind, Line: line}
}

// exit simulates the process ending; stderr closes before reaping.
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.events)
		close(p.done)
	})
}

type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	args     [][]string
	launched chan *fakeProcess
	// behave configures the n-th process (0-based) before it is returned.
	behave func(n int, p *fakeProcess)
}

func newFakeLauncher(behave func(n int, p *fakeProcess)) *fakeLauncher {
	if behave == nil {
		behave = func(_ int, p *fakeProcess) { p.emit(encoder.InputOpened, "Input #0, video4linux2,v4l2, from '/dev/video0':") }
	}
	return &fakeLauncher{launched: make(chan *fakeProcess, 32), behave: behave}
}

func (l *fakeLauncher) Launch(_ context.Context, args []string) (encoder.Process, error) {
	l.mu.Lock()
	n := len(l.procs)
	p := newFakeProcess(4000 + n)
	l.procs = append(l.procs, p)
	l.args = append(l.args, args)
	l.mu.Unlock()
	l.behave(n, p)
	l.launched <- p
	return p, nil
}

func (l *fakeLauncher) argsOf(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.args[n]
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

type switchProbe struct{ absent atomic.Bool }

func (p *switchProbe) probe() error {
	if p.absent.Load() {
		return errors.New("not mounted")
	}
	return nil
}

type memJournal struct {
	mu          sync.Mutex
	transitions []string
	segments    map[string]journal.SegmentStatus
}

func (j *memJournal) RecordSegment(_ context.Context, seg journal.Segment) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.segments == nil {
		j.segments = make(map[string]journal.SegmentStatus)
	}
	j.segments[seg.Name] = seg.Status
	return nil
}

func (j *memJournal) RecordTransition(_ context.Context, tr journal.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, tr.State)
	return nil
}

func (j *memJournal) status(name string) journal.SegmentStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.segments[name]
}

func (j *memJournal) states() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.transitions...)
}

type recordingDriver struct {
	mu     sync.Mutex
	writes []bool
}

func (d *recordingDriver) On() error  { return d.record(true) }
func (d *recordingDriver) Off() error { return d.record(false) }
func (d *recordingDriver) record(v bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, v)
	return nil
}

type harness struct {
	cfg      PipelineConfig
	launcher *fakeLauncher
	probe    *switchProbe
	journal  *memJournal
	ctrl     *Controller
}

func testPipelineConfig(t *testing.T) PipelineConfig {
	t.Helper()
	root := t.TempDir()
	device := filepath.Join(root, "video0")
	font := filepath.Join(root, "font.ttf")
	for _, path := range []string{device, font} {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	archive := filepath.Join(root, "archive")
	if err := os.MkdirAll(archive, 0o755); err != nil {
		t.Fatal(err)
	}
	return PipelineConfig{
		Encoder: encoder.Params{
			Binary:                "ffmpeg",
			VideoDevice:           device,
			InputFormat:           "mjpeg",
			VideoSize:             "1280x720",
			Framerate:             30,
			VideoCodec:            "libx264",
			Bitrate:               "1200k",
			Maxrate:               "1500k",
			Bufsize:               "3000k",
			Preset:                "ultrafast",
			Tune:                  "zerolatency",
			Profile:               "main",
			PixelFormat:           "yuv420p",
			KeyframeInterval:      2,
			DeviceID:              "cam0",
			SpoolDir:              filepath.Join(root, "spool"),
			ArchiveSegmentSeconds: 30,
			StreamDir:             filepath.Join(root, "hls"),
			StreamSegmentSeconds:  2,
			StreamListSize:        10,
		},
		ArchiveDir:     archive,
		SpoolMaxMB:     512,
		OverlayEnabled: true,
		OverlayDir:     filepath.Join(root, "overlay"),
		OverlayStyle: overlay.Style{
			FontPath:   font,
			FontSize:   24,
			TextColor:  "white",
			FixColor:   "lime",
			NoFixColor: "yellow",
			GPSEnabled: true,
		},
		OverlayRefresh:   20 * time.Millisecond,
		GPSEnabled:       true,
		StoragePoll:      10 * time.Millisecond,
		StartupTimeout:   200 * time.Millisecond,
		StopGrace:        50 * time.Millisecond,
		MaxRestarts:      3,
		BackoffInitial:   5 * time.Millisecond,
		BackoffMax:       20 * time.Millisecond,
		StableWindow:     time.Hour,
		RelaxDeviceCheck: true,
	}
}

func newHarness(t *testing.T, behave func(int, *fakeProcess), opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		cfg:      testPipelineConfig(t),
		launcher: newFakeLauncher(behave),
		probe:    &switchProbe{},
		journal:  &memJournal{},
	}
	o := Options{
		Launcher:  h.launcher,
		Probe:     h.probe.probe,
		Journal:   h.journal,
		Indicator: indicator.NewMachine(indicator.NopDriver{}, 10*time.Millisecond, nil),
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.ctrl = NewController(o)
	t.Cleanup(func() { _ = h.ctrl.Close(context.Background()) })
	return h
}

func waitState(t *testing.T, c *Controller, want State) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := c.Status()
		if st.State == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("state %v never reached; last %+v", want, st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func nextLaunch(t *testing.T, l *fakeLauncher) *fakeProcess {
	t.Helper()
	select {
	case p := <-l.launched:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an encoder launch")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var _ storage.Probe = (&switchProbe{}).probe

func spoolSegment(name string) spool.Segment {
	return spool.Segment{Name: name, Path: "/spool/" + name, Size: 1, ClosedAt: time.Now()}
}
