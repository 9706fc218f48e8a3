// Package testtimex provides a manually advanced timex.Clock.
package testtimex

import (
	"sync"
	"time"

	"github.com/lightstep/minitrace-go/internal/timex"
)

var _ timex.Clock = &Clock{}

// Clock only moves when Advance is called.
type Clock struct {
	lock    sync.Mutex
	now     time.Time
	tickers []*ticker
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// Advance moves the clock forward by d and fires every ticker that became
// due. Non-positive durations are ignored.
func (c *Clock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}

	c.lock.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*ticker(nil), c.tickers...)
	c.lock.Unlock()

	for _, t := range tickers {
		t.fire(now)
	}
}

func (c *Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *Clock) NewTicker(d time.Duration) timex.Ticker {
	if d <= 0 {
		panic("duration must be > 0")
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	t := &ticker{
		c:    make(chan time.Time, 1),
		d:    d,
		next: c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)

	return t
}

type ticker struct {
	lock   sync.Mutex
	c      chan time.Time
	d      time.Duration
	next   time.Time
	closed bool
}

func (t *ticker) C() <-chan time.Time {
	return t.c
}

func (t *ticker) Stop() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.closed {
		t.closed = true
		close(t.c)
	}
}

// fire delivers at most one tick per Advance, like time.Ticker drops ticks
// for slow receivers.
func (t *ticker) fire(now time.Time) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed || now.Before(t.next) {
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.d)
	}
	select {
	case t.c <- now:
	default:
	}
}
