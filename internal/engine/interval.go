package engine

import (
	"math/rand/v2"
	"time"
)

// Fast-mode tuning. The base interval steps up as empty polls accumulate
// so an idle-but-active device backs off a little without leaving fast
// mode, and jitter keeps a fleet from synchronizing against the server.
const (
	fastBaseInterval = 650 * time.Millisecond
	fastStep         = 200 * time.Millisecond
	fastStepAfter    = 10
	fastStepEvery    = 5
	fastMaxInterval  = 1250 * time.Millisecond
	fastJitter       = 150 * time.Millisecond
	fastFloor        = 500 * time.Millisecond

	// recentCommandWindow keeps the loop in fast mode for a while after
	// the last command, since commands tend to arrive in bursts.
	recentCommandWindow = 2 * time.Minute

	// transientRetryDelay is the fixed pause after an unclassified error.
	transientRetryDelay = 2 * time.Second
)

// fastInterval computes the fast-mode delay for the given empty-poll streak.
func fastInterval(consecutiveEmpty int) time.Duration {
	base := fastBaseInterval
	if consecutiveEmpty > fastStepAfter {
		steps := (consecutiveEmpty - fastStepAfter) / fastStepEvery
		base += time.Duration(steps) * fastStep
		if base > fastMaxInterval {
			base = fastMaxInterval
		}
	}
	d := base + jitterAbs(fastJitter)
	if d < fastFloor {
		d = fastFloor
	}
	return d
}

// slowInterval jitters the backoff controller's step delay by ±20%.
func slowInterval(stepDelay time.Duration) time.Duration {
	return stepDelay + jitterFrac(stepDelay, 0.2)
}

// jitterAbs returns a uniform value in [-spread, +spread].
func jitterAbs(spread time.Duration) time.Duration {
	if spread <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(2*spread))) - spread
}

// jitterFrac returns a uniform value in ±frac of d.
func jitterFrac(d time.Duration, frac float64) time.Duration {
	spread := time.Duration(float64(d) * frac)
	return jitterAbs(spread)
}
