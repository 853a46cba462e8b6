package keeptest

import (
	"sync"
	"time"

	keep "github.com/trustkeep/keep"
)

// Clock is a keep.Clock implementation that only moves when told to.
// The zero value starts at the zero time, use Set or Advance to position
// it. Safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now keep.UnixTime
}

var _ keep.Clock = (*Clock)(nil)

// NewClock returns a manual clock set to the given time.
func NewClock(now keep.UnixTime) *Clock {
	return &Clock{now: now}
}

// Now returns the current clock position.
func (c *Clock) Now() keep.UnixTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to an absolute time.
func (c *Clock) Set(now keep.UnixTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by the given duration.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
