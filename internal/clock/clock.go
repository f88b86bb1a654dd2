package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time in the deployment's local zone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// System reads the wall clock.
type System struct {
	loc *time.Location
}

// NewSystem returns a wall clock bound to loc.
func NewSystem(loc *time.Location) System {
	if loc == nil {
		loc = time.UTC
	}
	return System{loc: loc}
}

func (s System) Now() time.Time           { return time.Now().In(s.loc) }
func (s System) Location() *time.Location { return s.loc }

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual starts a manual clock at t. The zone of t is the clock's zone.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Location() *time.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Location()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
