package recorder

import (
	"time"

	"picam/internal/gnss"
	"picam/internal/hls"
	"picam/internal/indicator"
	"picam/internal/storage"
)

// State is the pipeline lifecycle state. Only the controller writes it.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Degraded
	Stopping
	Failed
)

var stateNames = map[State]string{
	Stopped:  "stopped",
	Starting: "starting",
	Running:  "running",
	Degraded: "degraded",
	Stopping: "stopping",
	Failed:   "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// StateNames lists every state name in lifecycle order.
func StateNames() []string {
	return []string{"stopped", "starting", "running", "degraded", "stopping", "failed"}
}

// capturing reports whether the encoder is producing output.
func (s State) capturing() bool {
	return s == Running || s == Degraded
}

// Handle identifies a started run.
type Handle struct {
	RunID     string
	StartedAt time.Time
	PID       int
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	State          State
	RunID          string
	StartedAt      time.Time
	Uptime         time.Duration
	PID            int
	Restarts       int
	LastError      string
	StorageState   storage.State
	Indicator      indicator.Signal
	SegmentsClosed int64
	SpoolPending   int
	Stream         hls.Stats
	StreamReady    bool
	GPS            gnss.Sample
	GPSFix         bool
}
