// Package clock abstracts wall-clock time so that time-driven behavior can be
// tested, and so the programme notifier can run against a simulated
// conference day.
package clock

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem returns a clock backed by time.Now.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

type fixedClock struct {
	now time.Time
}

// NewFixed returns a clock that always reports the same instant (for tests).
func NewFixed(t time.Time) Clock {
	return fixedClock{now: t.UTC()}
}

func (f fixedClock) Now() time.Time {
	return f.now
}

// Simulated reports time as if the process had started at a configured
// instant. With fast mode enabled, simulated time passes 60x faster than real
// time, which compresses a conference day into roughly 24 minutes.
type Simulated struct {
	start      time.Time
	realStart  time.Time
	multiplier time.Duration
	realNow    func() time.Time
}

// NewSimulated returns a clock that starts at start and advances from there.
func NewSimulated(start time.Time, fast bool) *Simulated {
	multiplier := time.Duration(1)
	if fast {
		multiplier = 60
	}
	return &Simulated{
		start:      start,
		realStart:  time.Now(),
		multiplier: multiplier,
		realNow:    time.Now,
	}
}

func (s *Simulated) Now() time.Time {
	elapsed := s.realNow().Sub(s.realStart)
	return s.start.Add(elapsed * s.multiplier).UTC()
}
