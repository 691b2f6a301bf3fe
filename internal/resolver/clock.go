package resolver

import "time"

// Clock abstracts wall time so resolution is deterministic under test
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock
type RealClock struct{}

// Now returns the current UTC time
func (RealClock) Now() time.Time { return time.Now().UTC() }
