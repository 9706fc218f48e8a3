// Package timex abstracts wall and monotonic time so span timestamps and the
// reporter loop can be driven by a fake clock in tests.
package timex

import "time"

type Clock interface {
	// Now carries a monotonic reading when the implementation allows it.
	Now() time.Time
	Since(time.Time) time.Duration
	NewTicker(time.Duration) Ticker
}

func NewClock() Clock {
	return clock{}
}

type clock struct{}

func (c clock) Now() time.Time {
	return time.Now()
}

func (c clock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (c clock) NewTicker(d time.Duration) Ticker {
	return newTicker(d)
}
