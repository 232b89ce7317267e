// Package system provides the wall clock used for flush events and archive paths.
package system

import "time"

// Clock returns UTC wall-clock time.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
