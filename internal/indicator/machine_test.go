package indicator

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"picam/internal/logging"
	"picam/internal/storage"
)

type recordingDriver struct {
	mu     sync.Mutex
	writes []bool
	err    error
}

func (d *recordingDriver) On() error  { return d.record(true) }
func (d *recordingDriver) Off() error { return d.record(false) }

func (d *recordingDriver) record(level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, level)
	return d.err
}

func (d *recordingDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

func (d *recordingDriver) last() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes[len(d.writes)-1]
}

func TestEvaluatePrecedence(t *testing.T) {
	cases := []struct {
		running bool
		st      storage.State
		want    Signal
	}{
		{false, storage.Present, Off},
		{false, storage.Absent, Off},
		{true, storage.Absent, Blinking},
		{true, storage.Present, SolidOn},
		{true, storage.Unknown, SolidOn},
	}
	for _, tc := range cases {
		if got := Evaluate(tc.running, tc.st); got != tc.want {
			t.Fatalf("Evaluate(%v, %v) = %v, want %v", tc.running, tc.st, got, tc.want)
		}
	}
}

func TestWritesOnlyOnChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	d := &recordingDriver{}
	m := NewMachine(d, time.Hour, logging.NewNop())
	base := d.count()

	m.SetStorage(storage.Present)
	m.SetStorage(storage.Present)
	if d.count() != base {
		t.Fatalf("expected no writes while not running, got %d", d.count()-base)
	}

	m.SetRunning(true)
	m.SetRunning(true)
	m.SetStorage(storage.Present)
	if d.count() != base+1 || !d.last() {
		t.Fatalf("expected exactly one On write, got %v", d.writes)
	}
	if m.Signal() != SolidOn {
		t.Fatalf("unexpected signal %v", m.Signal())
	}

	m.SetRunning(false)
	if d.count() != base+2 || d.last() {
		t.Fatalf("expected Off write, got %v", d.writes)
	}
	m.Close()
}

func TestStorageRemovedAndReinsertedSequence(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	d := &recordingDriver{}
	m := NewMachine(d, 10*time.Millisecond, logging.NewNop())

	var seen []Signal
	record := func() { seen = append(seen, m.Signal()) }

	m.SetStorage(storage.Present)
	m.SetRunning(true)
	record()
	m.SetStorage(storage.Absent)
	record()
	time.Sleep(60 * time.Millisecond)
	blinkWrites := d.count()
	m.SetStorage(storage.Present)
	record()

	want := []Signal{SolidOn, Blinking, SolidOn}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("signal sequence %v, want %v", seen, want)
		}
	}
	if blinkWrites < 4 {
		t.Fatalf("expected the blink timer to toggle, only %d writes", blinkWrites)
	}
	if !d.last() {
		t.Fatal("expected output high after returning to SolidOn")
	}
	settled := d.count()
	time.Sleep(40 * time.Millisecond)
	if d.count() != settled {
		t.Fatal("blink timer kept writing after leaving Blinking")
	}
	m.Close()
}

func TestBlinkingIffLastEdgeWasRemoval(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	rng := rand.New(rand.NewSource(7))
	m := NewMachine(&recordingDriver{}, time.Millisecond, logging.NewNop())
	m.SetRunning(true)

	lastAbsent := false
	for i := 0; i < 200; i++ {
		st := storage.Present
		if rng.Intn(2) == 0 {
			st = storage.Absent
		}
		m.SetStorage(st)
		lastAbsent = st == storage.Absent
		if (m.Signal() == Blinking) != lastAbsent {
			t.Fatalf("step %d: signal %v with lastAbsent=%v", i, m.Signal(), lastAbsent)
		}
	}
	m.Close()
	if m.Signal() != Off {
		t.Fatalf("expected Off after Close, got %v", m.Signal())
	}
}

func TestDriverErrorsDoNotChangeSignal(t *testing.T) {
	d := &recordingDriver{err: errors.New("gpio busy")}
	m := NewMachine(d, time.Hour, logging.NewNop())
	m.SetStorage(storage.Present)
	m.SetRunning(true)
	if m.Signal() != SolidOn {
		t.Fatalf("signal should follow inputs despite driver errors, got %v", m.Signal())
	}
	m.Close()
}

func TestNewDriverKinds(t *testing.T) {
	if _, err := NewDriver("none", "", logging.NewNop()); err != nil {
		t.Fatalf("none driver: %v", err)
	}
	if _, err := NewDriver("log", "", logging.NewNop()); err != nil {
		t.Fatalf("log driver: %v", err)
	}
	if _, err := NewDriver("laser", "", logging.NewNop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}
