package testkit

import (
	"sync/atomic"

	"github.com/pbrb-go/pbrb/contracts"
)

// Clock is a deterministic contracts.Clock for tests: each call to Now
// returns a strictly increasing tick, with no relation to wall-clock time.
type Clock struct {
	ticks atomic.Uint64
}

func (c *Clock) Now() contracts.Timestamp {
	return contracts.Timestamp(c.ticks.Add(1))
}

// Advance bumps the clock by n ticks without returning a reading, for
// tests that need to push rows past a retention window.
func (c *Clock) Advance(n uint64) {
	c.ticks.Add(n)
}

// Current returns the last tick handed out without consuming a new one.
func (c *Clock) Current() contracts.Timestamp {
	return contracts.Timestamp(c.ticks.Load())
}
