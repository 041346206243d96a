// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock satisfies acquisition.Clock with UTC wall time. Registry timestamps
// are persisted at second precision, so callers never rely on monotonic reads.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to whole seconds.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
