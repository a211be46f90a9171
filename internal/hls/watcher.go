// Package hls follows the live playlist the encoder maintains.
package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grafov/m3u8"

	"picam/internal/encoder"
	"picam/internal/logging"
)

// Stats summarises the most recent playlist.
type Stats struct {
	MediaSequence  uint64
	Segments       int
	TargetDuration float64
	UpdatedAt      time.Time
}

// ReadPlaylist parses a media playlist file.
func ReadPlaylist(path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()

	playlist, listType, err := m3u8.DecodeFrom(f, true)
	if err != nil {
		return Stats{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if listType != m3u8.MEDIA {
		return Stats{}, fmt.Errorf("%s is not a media playlist", path)
	}
	media := playlist.(*m3u8.MediaPlaylist)
	return Stats{
		MediaSequence:  media.SeqNo,
		Segments:       int(media.Count()),
		TargetDuration: media.TargetDuration,
	}, nil
}

// CleanStale removes playlist and segment files left by an earlier run.
func CleanStale(dir string) (int, error) {
	removed := 0
	for _, pattern := range []string{"*.ts", "*.m3u8", "*.m3u8.tmp"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return removed, err
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Watcher republishes playlist stats whenever the encoder rewrites it.
type Watcher struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
	stats  atomic.Pointer[Stats]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher returns a watcher for the playlist in dir.
func NewWatcher(dir string, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "hls"),
		now:    time.Now,
	}
}

// Start begins watching. The directory must exist.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("hls watcher already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.loop(loopCtx, fw)
	return nil
}

// Stop ends watching and waits for the loop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

// Stats returns the latest playlist summary. ok is false until the
// playlist has been read once.
func (w *Watcher) Stats() (Stats, bool) {
	if s := w.stats.Load(); s != nil {
		return *s, true
	}
	return Stats{}, false
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fw.Close()

	playlist := encoder.PlaylistName
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			// The hls muxer writes a temp file and renames it over the playlist.
			if filepath.Base(ev.Name) != playlist || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.refresh()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("hls watcher error", logging.Error(err))
		}
	}
}

func (w *Watcher) refresh() {
	stats, err := ReadPlaylist(encoder.PlaylistPath(w.dir))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Debug("playlist read failed", logging.Error(err))
		}
		return
	}
	stats.UpdatedAt = w.now()
	w.stats.Store(&stats)
}
