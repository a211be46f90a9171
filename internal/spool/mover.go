package spool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"picam/internal/encoder"
	"picam/internal/fileutil"
	"picam/internal/logging"
	"picam/internal/storage"
)

const defaultRetryInterval = 5 * time.Second

// Segment is one closed archival file.
type Segment struct {
	Name     string
	Path     string
	Size     int64
	ClosedAt time.Time
}

// Hooks receive segment lifecycle notifications. Any may be nil. They run
// on the mover goroutine and must not block.
type Hooks struct {
	Closed   func(Segment)
	Archived func(Segment)
	Dropped  func(Segment)
	Failed   func(Segment, error)
}

// Options configure a Mover.
type Options struct {
	SpoolDir      string
	ArchiveDir    string
	DeviceID      string
	MaxBytes      int64
	RetryInterval time.Duration
	// Storage reports the current archival storage state.
	Storage func() storage.State
	// Pruner, when set, runs before each delivery batch.
	Pruner *storage.Pruner
	Hooks  Hooks
}

// Mover follows the segment list and delivers closed segments.
type Mover struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	move   func(src, dst string) error

	trigger chan struct{}
	adopt   chan chan error
	failing atomic.Bool
	backlog atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	exited  chan struct{}
	wg      sync.WaitGroup

	// owned by the loop goroutine
	list    *listReader
	pending []Segment
}

// NewMover returns a mover for opts.
func NewMover(opts Options, logger *slog.Logger) *Mover {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.Storage == nil {
		opts.Storage = func() storage.State { return storage.Present }
	}
	return &Mover{
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "spool"),
		now:     time.Now,
		move:    fileutil.MoveFile,
		trigger: make(chan struct{}, 1),
		adopt:   make(chan chan error),
		list:    newListReader(encoder.SegmentListPath(opts.SpoolDir)),
	}
}

// Start adopts segments left by earlier runs, clears the stale list, and
// begins watching the spool.
func (m *Mover) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("spool mover already running")
	}

	if err := os.MkdirAll(m.opts.SpoolDir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	if err := m.adoptLeftovers(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	if err := watcher.Add(m.opts.SpoolDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch spool %s: %w", m.opts.SpoolDir, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.exited = make(chan struct{})
	m.running = true
	m.wg.Add(1)
	go m.loop(loopCtx, watcher, m.exited)
	return nil
}

// Stop ends the loop after one last pass over the list, so the segment
// finalised at encoder shutdown is still delivered when possible.
func (m *Mover) Stop() {
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
}

// Notify asks for an immediate delivery pass, typically on a storage edge.
func (m *Mover) Notify() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// ErrNotRunning is returned by Adopt when the mover loop is not running.
var ErrNotRunning = errors.New("spool mover not running")

// Adopt queues every closed segment file in the spool that the list never
// announced, such as the one an encoder was writing when it died, then
// clears the list and runs a delivery pass. Call it only while no encoder
// is writing into the spool.
func (m *Mover) Adopt(ctx context.Context) error {
	m.mu.Lock()
	exited := m.exited
	running := m.running
	m.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	reply := make(chan error, 1)
	select {
	case m.adopt <- reply:
	case <-exited:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failing reports whether the most recent delivery attempt failed while
// storage was present.
func (m *Mover) Failing() bool { return m.failing.Load() }

// Pending returns the number of closed segments waiting in the spool.
func (m *Mover) Pending() int { return int(m.backlog.Load()) }

func (m *Mover) loop(ctx context.Context, watcher *fsnotify.Watcher, exited chan struct{}) {
	defer m.wg.Done()
	defer close(exited)
	defer watcher.Close()

	retry := time.NewTicker(m.opts.RetryInterval)
	defer retry.Stop()

	m.pass()
	for {
		select {
		case <-ctx.Done():
			m.pass()
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == encoder.SegmentListName && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.pass()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("spool watcher error", logging.Error(err))
		case <-m.trigger:
			m.pass()
		case reply := <-m.adopt:
			reply <- m.adoptOrphans()
		case <-retry.C:
			m.pass()
		}
	}
}

// pass reads newly listed segments, enforces the bound, and delivers.
func (m *Mover) pass() {
	m.readListed()
	m.enforceBound()
	if m.opts.Storage() == storage.Present {
		m.deliver()
	}
	m.backlog.Store(int64(len(m.pending)))
}

func (m *Mover) readListed() {
	names, err := m.list.readNew()
	if err != nil {
		m.logger.Warn("read segment list failed", logging.Error(err))
	}
	for _, name := range names {
		path := filepath.Join(m.opts.SpoolDir, name)
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		seg := Segment{Name: name, Path: path, Size: info.Size(), ClosedAt: m.now()}
		m.pending = append(m.pending, seg)
		if m.opts.Hooks.Closed != nil {
			m.opts.Hooks.Closed(seg)
		}
	}
}

func (m *Mover) enforceBound() {
	if m.opts.MaxBytes <= 0 {
		return
	}
	var total int64
	for _, seg := range m.pending {
		total += seg.Size
	}
	for total > m.opts.MaxBytes && len(m.pending) > 0 {
		seg := m.pending[0]
		m.pending = m.pending[1:]
		total -= seg.Size
		if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("drop spooled segment failed", logging.String("segment", seg.Name), logging.Error(err))
		}
		logging.WarnWithContext(m.logger, "spool full; dropped oldest segment", "segment_dropped",
			logging.String("segment", seg.Name),
			logging.String("size", humanize.Bytes(uint64(seg.Size))),
			logging.String("spool_limit", humanize.Bytes(uint64(m.opts.MaxBytes))),
			logging.String(logging.FieldErrorHint, "reinsert the recording drive or raise archive.spool_max_mb"),
			logging.String(logging.FieldImpact, "the oldest unarchived footage is lost"),
		)
		if m.opts.Hooks.Dropped != nil {
			m.opts.Hooks.Dropped(seg)
		}
	}
}

func (m *Mover) deliver() {
	if len(m.pending) == 0 {
		return
	}
	if m.opts.Pruner != nil {
		if _, err := m.opts.Pruner.Prune(); err != nil {
			m.logger.Warn("retention prune failed", logging.Error(err))
		}
	}
	for len(m.pending) > 0 {
		seg := m.pending[0]
		dst := filepath.Join(m.opts.ArchiveDir, seg.Name)
		if err := m.move(seg.Path, dst); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if _, statErr := os.Stat(seg.Path); errors.Is(statErr, os.ErrNotExist) {
					m.pending = m.pending[1:]
					continue
				}
			}
			m.fail(seg, err)
			return
		}
		m.pending = m.pending[1:]
		if m.failing.Swap(false) {
			m.logger.Info("archival delivery recovered",
				logging.String(logging.FieldEventType, "archive_recovered"),
			)
		}
		m.logger.Debug("segment archived", logging.String("segment", seg.Name), logging.String("dest", dst))
		if m.opts.Hooks.Archived != nil {
			m.opts.Hooks.Archived(seg)
		}
	}
}

func (m *Mover) fail(seg Segment, err error) {
	if !m.failing.Swap(true) {
		logging.WarnWithContext(m.logger, "archival delivery failed", "archive_write_failed",
			logging.String("segment", seg.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the recording drive for free space and write errors"),
			logging.String(logging.FieldImpact, "segments accumulate in the spool until delivery succeeds"),
		)
	}
	if m.opts.Hooks.Failed != nil {
		m.opts.Hooks.Failed(seg, err)
	}
}

// adoptLeftovers queues segments from a previous run. With no encoder
// running yet, every segment file in the spool is closed.
func (m *Mover) adoptLeftovers() error {
	adopted, err := m.collectUnlisted(false)
	if err != nil {
		return err
	}
	if len(adopted) > 0 {
		m.logAdopted("adopted spooled segments from previous run", adopted)
	}
	m.backlog.Store(int64(len(m.pending)))
	return m.clearList()
}

// adoptOrphans runs on the loop goroutine between encoder runs. Segments
// the dead encoder closed without a list line are reported through the
// Closed hook like any other.
func (m *Mover) adoptOrphans() error {
	m.readListed()
	adopted, err := m.collectUnlisted(true)
	if err != nil {
		return err
	}
	if len(adopted) > 0 {
		sort.SliceStable(m.pending, func(i, j int) bool { return m.pending[i].Name < m.pending[j].Name })
		m.logAdopted("adopted unlisted segments after encoder exit", adopted)
	}
	listErr := m.clearList()
	m.enforceBound()
	if m.opts.Storage() == storage.Present {
		m.deliver()
	}
	m.backlog.Store(int64(len(m.pending)))
	return listErr
}

// collectUnlisted appends every non-empty segment file in the spool that is
// not already pending. Empty files are removed.
func (m *Mover) collectUnlisted(announce bool) ([]Segment, error) {
	matches, err := filepath.Glob(filepath.Join(m.opts.SpoolDir, encoder.ArchiveGlob(m.opts.DeviceID)))
	if err != nil {
		return nil, fmt.Errorf("list spool: %w", err)
	}
	sort.Strings(matches)
	held := make(map[string]struct{}, len(m.pending))
	for _, seg := range m.pending {
		held[seg.Path] = struct{}{}
	}

	var adopted []Segment
	for _, path := range matches {
		if _, ok := held[path]; ok {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Size() == 0 {
			_ = os.Remove(path)
			continue
		}
		seg := Segment{
			Name:     filepath.Base(path),
			Path:     path,
			Size:     info.Size(),
			ClosedAt: info.ModTime(),
		}
		m.pending = append(m.pending, seg)
		adopted = append(adopted, seg)
		if announce && m.opts.Hooks.Closed != nil {
			m.opts.Hooks.Closed(seg)
		}
	}
	return adopted, nil
}

func (m *Mover) logAdopted(msg string, adopted []Segment) {
	paths := make([]string, 0, len(adopted))
	for _, seg := range adopted {
		paths = append(paths, seg.Path)
	}
	m.logger.Info(msg,
		logging.String(logging.FieldEventType, "spool_adopted"),
		logging.Int("segments", len(adopted)),
		logging.String("size", humanize.Bytes(uint64(fileutil.DirSize(paths)))),
	)
}

func (m *Mover) clearList() error {
	if err := os.Remove(m.list.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear segment list: %w", err)
	}
	m.list.reset()
	return nil
}
