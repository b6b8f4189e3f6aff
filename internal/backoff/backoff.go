// Package backoff translates server rate-limit feedback and empty-poll
// streaks into wait times. The controller is owned by the single polling
// loop and needs no locking.
package backoff

import "time"

const (
	// DefaultMaxLevel caps how far repeated 429s can push the level.
	DefaultMaxLevel = 10

	baseDelay     = time.Second
	maxDelay      = 30 * time.Second
	retryAfterPad = 500 * time.Millisecond
)

// Controller tracks a backoff level. The level rises by one on each
// rate-limit response and falls by one on each clean success. Decrement
// rather than reset-to-zero: a single success interleaved with failures
// must not restore full aggressiveness, or the request rate saw-tooths
// between aggressive and blocked.
type Controller struct {
	level    int
	maxLevel int
}

func New(maxLevel int) *Controller {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	return &Controller{maxLevel: maxLevel}
}

// Level returns the current backoff level, always in [0, maxLevel].
func (c *Controller) Level() int { return c.level }

// Increment is called on every 429.
func (c *Controller) Increment() {
	if c.level < c.maxLevel {
		c.level++
	}
}

// Decrement is called on every clean 200/204.
func (c *Controller) Decrement() {
	if c.level > 0 {
		c.level--
	}
}

// RateLimitDelay computes the wait after a 429. A server-supplied
// Retry-After takes precedence over the level curve, padded with a small
// safety margin so the next request lands after the window reopens.
func (c *Controller) RateLimitDelay(retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter + retryAfterPad
	}
	d := baseDelay << uint(c.level)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d
}

// EmptyPollDelay is the slow-mode step function: monotonic in the number
// of consecutive empty polls, bounded at tens of seconds.
func (c *Controller) EmptyPollDelay(consecutiveEmptyPolls int) time.Duration {
	switch {
	case consecutiveEmptyPolls < 5:
		return 2 * time.Second
	case consecutiveEmptyPolls < 15:
		return 5 * time.Second
	case consecutiveEmptyPolls < 40:
		return 10 * time.Second
	case consecutiveEmptyPolls < 100:
		return 20 * time.Second
	default:
		return 30 * time.Second
	}
}
