package preflight

import (
	"context"

	"picam/internal/config"
	"picam/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled. Binary
// checks are included as results so callers can render one list.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckCaptureDevice(cfg.Capture.VideoDevice),
		CheckArchiveStorage(cfg),
		CheckDirectoryAccess("Spool directory", cfg.Archive.SpoolDir),
		CheckDirectoryAccess("Stream directory", cfg.Stream.Dir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}

	if cfg.Overlay.Enabled {
		results = append(results,
			CheckDirectoryAccess("Overlay directory", cfg.Overlay.Dir),
			CheckReadableFile("Overlay font", cfg.Overlay.FontPath),
		)
	}

	if cfg.GPS.Enabled {
		results = append(results, CheckGPSPort(cfg.GPS.Device))
	}

	for _, dep := range CheckSystemDeps(ctx, cfg) {
		results = append(results, Result{Name: dep.Name, Passed: dep.Available || dep.Optional, Detail: depDetail(dep)})
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func depDetail(dep deps.Status) string {
	if dep.Detail != "" {
		return dep.Detail
	}
	return dep.Command
}
