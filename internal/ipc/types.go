package ipc

import "time"

// StartRequest asks the daemon to start recording.
type StartRequest struct{}

// StartResponse reports the outcome of a start request. ErrorKind carries
// the pipeline error kind when Started is false.
type StartResponse struct {
	Started   bool      `json:"started"`
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Message   string    `json:"message"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// StopRequest asks the daemon to stop recording.
type StopRequest struct{}

// StopResponse indicates stop result. Forced is set when the encoder had
// to be killed after the grace period.
type StopResponse struct {
	Stopped bool   `json:"stopped"`
	Forced  bool   `json:"forced"`
	Message string `json:"message"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the flattened pipeline status.
type StatusResponse struct {
	State          string         `json:"state"`
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	PID            int            `json:"pid"`
	Restarts       int            `json:"restarts"`
	LastError      string         `json:"last_error"`
	Storage        string         `json:"storage"`
	Indicator      string         `json:"indicator"`
	SegmentsClosed int64          `json:"segments_closed"`
	SpoolPending   int            `json:"spool_pending"`
	StreamReady    bool           `json:"stream_ready"`
	StreamSequence uint64         `json:"stream_sequence"`
	StreamSegments int            `json:"stream_segments"`
	GPSFix         bool           `json:"gps_fix"`
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	Satellites     int            `json:"satellites"`
	SegmentCounts  map[string]int `json:"segment_counts"`
	JournalPath    string         `json:"journal_path"`
	LockPath       string         `json:"lock_path"`
	DaemonPID      int            `json:"daemon_pid"`
}

// StorageRequest fetches the latest storage observation.
type StorageRequest struct{}

// StorageResponse describes the archival storage.
type StorageResponse struct {
	State    string    `json:"state"`
	Previous string    `json:"previous"`
	Since    time.Time `json:"since"`
	Reason   string    `json:"reason"`
}

// IndicatorRequest fetches the LED signal.
type IndicatorRequest struct{}

// IndicatorResponse carries the LED signal name.
type IndicatorResponse struct {
	Signal string `json:"signal"`
}
