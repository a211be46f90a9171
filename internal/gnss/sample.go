// Package gnss provides the latest GPS fix to the recorder.
//
// A Provider never blocks: Latest returns whatever was last parsed from the
// receiver, copied by value. Receivers that stop talking decay to "no fix"
// once their last sample is older than the configured staleness window.
package gnss

import (
	"sync/atomic"
	"time"
)

// Sample is one observation from the receiver.
type Sample struct {
	Latitude   float64
	Longitude  float64
	Satellites int
	HasFix     bool
	ObservedAt time.Time
}

// Provider yields the most recent sample. ok is false when nothing usable
// has been observed.
type Provider interface {
	Latest() (Sample, bool)
}

// None is the provider used when GPS is disabled.
type None struct{}

func (None) Latest() (Sample, bool) { return Sample{}, false }

// Static returns a settable provider, mainly for tests and demos.
type Static struct {
	current atomic.Pointer[Sample]
}

// Set publishes sample as the latest observation.
func (s *Static) Set(sample Sample) {
	s.current.Store(&sample)
}

// Clear forgets the last observation.
func (s *Static) Clear() {
	s.current.Store(nil)
}

func (s *Static) Latest() (Sample, bool) {
	p := s.current.Load()
	if p == nil {
		return Sample{}, false
	}
	return *p, true
}
