package core

import (
	"sync"
)

// Clock implements a Lamport logical clock.
// Operation counters are drawn from it, so a replica's counters are strictly
// increasing and always ahead of every counter the replica has observed.
type Clock struct {
	mu   sync.Mutex
	time uint64
}

// NewClock creates a new Lamport clock starting at 0
func NewClock() *Clock {
	return &Clock{}
}

// NewClockWithTime creates a new Lamport clock with an initial time
func NewClockWithTime(initialTime uint64) *Clock {
	return &Clock{time: initialTime}
}

// Tick increments the clock and returns the new time.
// Must be called before every local operation.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return c.time
}

// Observe advances the clock so that the next Tick is greater than remoteTime.
// Unlike a classic receive event it does not tick on its own: counters of
// applied operations only need to stay below the next local counter.
func (c *Clock) Observe(remoteTime uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remoteTime > c.time {
		c.time = remoteTime
	}
}

// Now returns the current clock time without incrementing
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}
