// Package system provides the wall clock used in production.
package system

import (
	"sync"
	"time"
)

// Clock implements inventory.Clock. Successive readings never share a
// millisecond, so timestamped object names stay unique within a process.
type Clock struct {
	now func() time.Time

	mu   sync.Mutex
	last int64
}

// New creates a Clock reading time.Now.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current UTC time, nudged forward by a millisecond when
// the previous reading fell in the same or a later millisecond.
func (c *Clock) Now() time.Time {
	t := c.now().UTC()
	ms := t.UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()
	if ms <= c.last {
		ms = c.last + 1
		t = time.UnixMilli(ms).UTC()
	}
	c.last = ms
	return t
}
