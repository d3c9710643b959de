package monotonic

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timestamper supplies the current time as seconds since the Unix epoch.
type Timestamper interface {
	Timestamp() uint32
}

// Clock returns wall clock time corrected by an NTP offset.
type Clock struct {
	// offset is added to time.Now() to account for NTP synchronization.
	// Protected by mu.
	offset time.Duration
	mu     sync.RWMutex

	// last is the highest timestamp handed out so far.
	last atomic.Uint32

	now func() time.Time
}

// NewClock creates a new Clock with zero offset.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current time adjusted by any NTP offset.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return c.now().Add(offset)
}

// Timestamp returns Now as Unix seconds. The result never decreases, even
// when the offset or the system clock moves backwards.
func (c *Clock) Timestamp() uint32 {
	ts := toTimestamp(c.Now())
	for {
		last := c.last.Load()
		if ts <= last {
			return last
		}
		if c.last.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

// SetOffset updates the NTP time offset. This is called when the SNTP
// subsystem determines a new clock correction.
func (c *Clock) SetOffset(offset time.Duration) {
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

// Offset returns the current NTP time offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

func toTimestamp(t time.Time) uint32 {
	s := t.Unix()
	switch {
	case s < 0:
		return 0
	case s > int64(^uint32(0)):
		return ^uint32(0)
	default:
		return uint32(s)
	}
}

// ManualClock is a Timestamper whose time only moves when told to.
type ManualClock struct {
	ts atomic.Uint32
}

// NewManualClock returns a ManualClock reading ts.
func NewManualClock(ts uint32) *ManualClock {
	c := &ManualClock{}
	c.ts.Store(ts)
	return c
}

func (c *ManualClock) Timestamp() uint32 {
	return c.ts.Load()
}

// Set moves the clock to ts, forwards or backwards.
func (c *ManualClock) Set(ts uint32) {
	c.ts.Store(ts)
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d uint32) {
	c.ts.Add(d)
}

var (
	_ Timestamper = (*Clock)(nil)
	_ Timestamper = (*ManualClock)(nil)
)
