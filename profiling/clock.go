package profiling

import (
	"sync/atomic"
	"time"
)

// Clock supplies the monotonic timestamps call durations are measured with.
type Clock interface {
	Nanotime() int64
}

type monotonicClock struct {
	base time.Time
}

// SystemClock returns a Clock reading the monotonic clock, in nanoseconds
// since the clock was created.
func SystemClock() Clock {
	return monotonicClock{base: time.Now()}
}

func (c monotonicClock) Nanotime() int64 {
	return int64(time.Since(c.base))
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	now atomic.Int64
}

func NewManualClock(startNs int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(startNs)
	return c
}

func (c *ManualClock) Nanotime() int64 {
	return c.now.Load()
}

// Advance moves the clock forward by d. A negative d moves it back.
func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

func (c *ManualClock) Set(ns int64) {
	c.now.Store(ns)
}
