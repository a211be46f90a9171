package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"picam/internal/gnss"
	"picam/internal/logging"
)

// FrameWriter delivers frames to the encoder.
type FrameWriter interface {
	Write(Frame) error
}

// Refresher recomposes and publishes the overlay on a fixed interval.
type Refresher struct {
	writer   FrameWriter
	gps      gnss.Provider
	style    Style
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	last     atomic.Pointer[Frame]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	failing bool
}

// NewRefresher constructs a refresher. A nil provider means no GPS.
func NewRefresher(writer FrameWriter, gps gnss.Provider, style Style, interval time.Duration, logger *slog.Logger) *Refresher {
	if gps == nil {
		gps = gnss.None{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Refresher{
		writer:   writer,
		gps:      gps,
		style:    style,
		interval: interval,
		now:      time.Now,
		logger:   logging.NewComponentLogger(logger, "overlay"),
	}
}

// Start publishes the first frame synchronously, so the directive files
// exist before the encoder opens them, then refreshes in the background.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("overlay refresher already running")
	}
	if err := r.refresh(); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.loop(loopCtx)
	return nil
}

// Stop halts refreshing and waits for the loop to exit.
func (r *Refresher) Stop() {
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

// Last returns the most recently published frame.
func (r *Refresher) Last() (Frame, bool) {
	p := r.last.Load()
	if p == nil {
		return Frame{}, false
	}
	return *p, true
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refresh(); err != nil {
				if !r.failing {
					logging.WarnWithContext(r.logger, "overlay update failed; previous text stays on screen", "overlay_write_failed",
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "check overlay.dir is writable"),
						logging.String(logging.FieldImpact, "burned-in timestamp may freeze"),
					)
				}
				r.failing = true
				continue
			}
			if r.failing {
				r.logger.Info("overlay updates resumed", logging.String(logging.FieldEventType, "overlay_write_recovered"))
			}
			r.failing = false
		}
	}
}

func (r *Refresher) refresh() error {
	var sample *gnss.Sample
	if s, ok := r.gps.Latest(); ok {
		sample = &s
	}
	frame := Compose(r.now(), sample, r.style)
	if err := r.writer.Write(frame); err != nil {
		return err
	}
	r.last.Store(&frame)
	return nil
}
