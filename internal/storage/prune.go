package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"picam/internal/logging"
)

// Pruner deletes the oldest archived segments while free space on the
// destination is below MinFree. Segment names start with a sortable
// capture timestamp, so lexical order is chronological order.
type Pruner struct {
	Dir     string
	Pattern string
	MinFree uint64
	Free    func(dir string) (uint64, error)
	Logger  *slog.Logger
}

// NewPruner returns a pruner for dir keeping minFreeGB gigabytes available.
func NewPruner(dir, pattern string, minFreeGB float64, logger *slog.Logger) *Pruner {
	return &Pruner{
		Dir:     dir,
		Pattern: pattern,
		MinFree: uint64(minFreeGB * 1e9),
		Free:    FreeBytes,
		Logger:  logging.NewComponentLogger(logger, "retention"),
	}
}

// Prune removes segments until the floor is met or nothing is left. It
// returns the number of files deleted.
func (p *Pruner) Prune() (int, error) {
	if p.MinFree == 0 {
		return 0, nil
	}
	free, err := p.Free(p.Dir)
	if err != nil {
		return 0, err
	}
	if free >= p.MinFree {
		return 0, nil
	}

	matches, err := filepath.Glob(filepath.Join(p.Dir, p.Pattern))
	if err != nil {
		return 0, fmt.Errorf("list segments: %w", err)
	}
	sort.Strings(matches)

	removed := 0
	var reclaimed uint64
	for _, path := range matches {
		if free >= p.MinFree {
			break
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
		reclaimed += uint64(info.Size())
		if free, err = p.Free(p.Dir); err != nil {
			return removed, err
		}
	}
	if removed > 0 {
		p.Logger.Info("pruned oldest recordings",
			logging.String(logging.FieldEventType, "retention_pruned"),
			logging.Int("files", removed),
			logging.String("reclaimed", humanize.Bytes(reclaimed)),
			logging.String("free", humanize.Bytes(free)),
			logging.String("floor", humanize.Bytes(p.MinFree)),
		)
	}
	if free < p.MinFree {
		logging.WarnWithContext(p.Logger, "free space still below floor after pruning", "retention_exhausted",
			logging.String("free", humanize.Bytes(free)),
			logging.String("floor", humanize.Bytes(p.MinFree)),
			logging.String(logging.FieldErrorHint, "remove non-recording files from the drive or lower archive.min_free_gb"),
			logging.String(logging.FieldImpact, "new segments may fail to archive"),
		)
	}
	return removed, nil
}
