package gnss

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"picam/internal/logging"
)

// DefaultPortPatterns are probed in order when no device is configured.
var DefaultPortPatterns = []string{
	"/dev/serial/by-id/*",
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyAMA*",
	"/dev/serial0",
}

// Options configures an NMEA serial reader.
type Options struct {
	Device        string
	BaudRate      int
	StaleAfter    time.Duration
	MinSatellites int
	RetryInterval time.Duration
}

// OpenFunc opens a serial port for reading.
type OpenFunc func(device string, baud int) (io.ReadCloser, error)

// Reader parses NMEA 0183 sentences from a serial receiver in the background
// and publishes the latest fix.
type Reader struct {
	opts    Options
	logger  *slog.Logger
	open    OpenFunc
	glob    func(string) ([]string, error)
	now     func() time.Time
	current atomic.Pointer[Sample]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ReaderOption customizes a Reader.
type ReaderOption func(*Reader)

// WithOpenFunc replaces the serial port opener.
func WithOpenFunc(open OpenFunc) ReaderOption {
	return func(r *Reader) { r.open = open }
}

// WithClock replaces the time source used to stamp and age samples.
func WithClock(now func() time.Time) ReaderOption {
	return func(r *Reader) { r.now = now }
}

// NewReader constructs a Reader. Zero option values fall back to 9600 baud,
// 5s staleness, 3 satellites, and a 2s retry interval.
func NewReader(opts Options, logger *slog.Logger, options ...ReaderOption) *Reader {
	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Second
	}
	if opts.MinSatellites <= 0 {
		opts.MinSatellites = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 2 * time.Second
	}
	r := &Reader{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "gnss"),
		open:   openSerial,
		glob:   filepath.Glob,
		now:    time.Now,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

func openSerial(device string, baud int) (io.ReadCloser, error) {
	return serial.Open(device, &serial.Mode{BaudRate: baud})
}

// Start launches the background read loop.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("gnss reader already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.loop(loopCtx)
	return nil
}

// Stop cancels the read loop and waits for it to exit.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Latest returns a copy of the last sample. Samples older than the staleness
// window are returned without a fix.
func (r *Reader) Latest() (Sample, bool) {
	p := r.current.Load()
	if p == nil {
		return Sample{}, false
	}
	sample := *p
	if r.now().Sub(sample.ObservedAt) > r.opts.StaleAfter {
		sample.HasFix = false
	}
	return sample, true
}

func (r *Reader) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		if err := r.session(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(r.logger, "gps receiver unavailable; retrying", "gps_unavailable",
				logging.Error(err),
				logging.Duration("retry_in", r.opts.RetryInterval),
				logging.String(logging.FieldErrorHint, "check the receiver cable and gps.device"),
				logging.String(logging.FieldImpact, "overlay shows no fix until the receiver returns"),
			)
		}
		r.markNoFix()
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.opts.RetryInterval):
		}
	}
}

func (r *Reader) session(ctx context.Context) error {
	device, err := r.resolveDevice()
	if err != nil {
		return err
	}
	port, err := r.open(device, r.opts.BaudRate)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer func() {
		if stop() {
			_ = port.Close()
		}
	}()
	r.logger.Info("gps receiver opened", logging.String("device", device), logging.Int("baud", r.opts.BaudRate))

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		r.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (r *Reader) resolveDevice() (string, error) {
	if r.opts.Device != "" {
		return r.opts.Device, nil
	}
	return detectPort(r.glob)
}

// DetectPort returns the first serial port matching DefaultPortPatterns.
func DetectPort() (string, error) {
	return detectPort(filepath.Glob)
}

func detectPort(glob func(string) ([]string, error)) (string, error) {
	for _, pattern := range DefaultPortPatterns {
		matches, err := glob(pattern)
		if err != nil || len(matches) == 0 {
			continue
		}
		return matches[0], nil
	}
	return "", errors.New("no serial port found for gps receiver")
}

func (r *Reader) handleLine(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		r.logger.Debug("nmea parse failed", logging.String("sentence", line), logging.Error(err))
		return
	}
	switch s := sentence.(type) {
	case nmea.GGA:
		sats := int(s.NumSatellites)
		r.current.Store(&Sample{
			Latitude:   s.Latitude,
			Longitude:  s.Longitude,
			Satellites: sats,
			HasFix:     s.FixQuality != nmea.Invalid && sats >= r.opts.MinSatellites,
			ObservedAt: r.now(),
		})
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			r.markNoFix()
		}
	}
}

func (r *Reader) markNoFix() {
	prev := r.current.Load()
	if prev == nil || !prev.HasFix {
		return
	}
	next := *prev
	next.HasFix = false
	next.ObservedAt = r.now()
	r.current.Store(&next)
}
