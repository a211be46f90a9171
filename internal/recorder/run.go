package recorder

import (
	"context"
	"sync"
	"sync/atomic"

	"picam/internal/encoder"
	"picam/internal/gnss"
	"picam/internal/hls"
	"picam/internal/overlay"
	"picam/internal/spool"
	"picam/internal/storage"
)

// run is one Start..Stop lifetime. Component fields are set at
// construction and never reassigned, so Status may read them lock-free.
type run struct {
	id      string
	cfg     PipelineConfig
	ctx     context.Context
	cancel  context.CancelFunc
	started chan error
	done    chan struct{}

	launcher  encoder.Launcher
	monitor   *storage.Monitor
	udev      *storage.UdevWatcher
	gps       gnss.Provider
	reader    *gnss.Reader
	refresher *overlay.Refresher
	mover     *spool.Mover
	stream    *hls.Watcher
	watchers  sync.WaitGroup

	pid          atomic.Int64
	closed       atomic.Int64
	teeDropped   atomic.Bool
	moverFailing atomic.Bool
	forced       atomic.Bool

	failureMu sync.Mutex
	failure   string
}

func (c *Controller) newRun(parent context.Context, cfg PipelineConfig) *run {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	r := &run{
		id:      newRunID(),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		started: make(chan error, 1),
		done:    make(chan struct{}),
	}

	r.launcher = c.opts.Launcher
	if r.launcher == nil {
		r.launcher = encoder.NewExecLauncher(cfg.Encoder.Binary, encoder.Parser{SpoolDir: cfg.Encoder.SpoolDir}, c.logger)
	}

	probe := c.opts.Probe
	if probe == nil {
		probe = storage.MountProbe(cfg.ArchiveDir, cfg.RequireMount)
	}
	r.monitor = storage.NewMonitor(probe, cfg.StoragePoll, c.logger)
	if cfg.Udev {
		r.udev = storage.NewUdevWatcher(c.logger, r.monitor.Trigger)
	}

	switch {
	case c.opts.GPS != nil:
		r.gps = c.opts.GPS
	case cfg.GPSEnabled:
		r.reader = gnss.NewReader(gnss.Options{
			Device:        cfg.GPSDevice,
			BaudRate:      cfg.GPSBaudRate,
			StaleAfter:    cfg.GPSStaleAfter,
			MinSatellites: cfg.GPSMinSatellites,
		}, c.logger)
		r.gps = r.reader
	default:
		r.gps = gnss.None{}
	}

	if cfg.OverlayEnabled {
		files := overlay.FilesIn(cfg.OverlayDir)
		r.refresher = overlay.NewRefresher(overlay.NewFileWriter(files, cfg.OverlayStyle), r.gps, cfg.OverlayStyle, cfg.OverlayRefresh, c.logger)
	}

	r.mover = spool.NewMover(spool.Options{
		SpoolDir:   cfg.Encoder.SpoolDir,
		ArchiveDir: cfg.ArchiveDir,
		DeviceID:   cfg.Encoder.DeviceID,
		MaxBytes:   int64(cfg.SpoolMaxMB) << 20,
		Storage:    func() storage.State { return r.monitor.Current().State },
		Pruner:     storage.NewPruner(cfg.ArchiveDir, encoder.ArchiveGlob(cfg.Encoder.DeviceID), cfg.MinFreeGB, c.logger),
		Hooks:      c.segmentHooks(r),
	}, c.logger)
	r.stream = hls.NewWatcher(cfg.Encoder.StreamDir, c.logger)
	return r
}

// params returns the encoder arguments for this run.
func (r *run) params() encoder.Params {
	p := r.cfg.Encoder
	if r.cfg.OverlayEnabled {
		p.Filter = overlay.Filter(r.cfg.OverlayStyle, overlay.FilesIn(r.cfg.OverlayDir))
	}
	return p
}

func (r *run) setArchiveFailure(detail string) {
	r.failureMu.Lock()
	defer r.failureMu.Unlock()
	r.failure = detail
}

func (r *run) archiveFailure() string {
	r.failureMu.Lock()
	defer r.failureMu.Unlock()
	return r.failure
}
