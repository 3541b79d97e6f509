// Package system provides clock implementations for leads.Clock.
package system

import "time"

// Clock implements leads.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a leads.Clock frozen at a single instant, for deterministic
// snapshot windows and harvest timestamps in tests.
type Fixed struct {
	At time.Time
}

// Now returns f.At.
func (f Fixed) Now() time.Time {
	return f.At
}
