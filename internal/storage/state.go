package storage

import "time"

// State is the observed availability of the archival destination.
type State int

const (
	Unknown State = iota
	Present
	Absent
)

func (s State) String() string {
	switch s {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "unknown"
	}
}

// Event is one published transition. Since is the observation time of the
// change, taken from the monotonic clock.
type Event struct {
	State    State
	Previous State
	Since    time.Time
	Reason   string
}
