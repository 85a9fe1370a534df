package chademo

import (
	"sync"
	"time"
)

// Transport is what the protocol core needs from a CAN link.
// Receive never blocks, it returns false when no frame is pending.
type Transport interface {
	Receive() (Frame, bool)
	Send(frame Frame) error
}

// A transport reporting the state of its link. Process is called once per
// drive cycle, after the pending frames were received.
type Supervised interface {
	Transport
	Process() error
	Error() uint16   // Latched CAN error flags
	Dropped() uint64 // Frames lost on reception
}

// Clock supplies monotonic time to the protocol core
type Clock interface {
	Now() time.Time
}

// SystemClock uses the wall clock (time.Now carries a monotonic reading)
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock only moves when told to, used for simulation and tests
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance the clock by d and return the new time
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
