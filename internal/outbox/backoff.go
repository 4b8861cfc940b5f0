package outbox

import "time"

// backoffLadder holds the fixed retry delays, indexed by min(attempts-1, 3).
// Attempts past the fourth reuse the final rung.
var backoffLadder = [...]time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
}

// backoffDelay returns the retry delay after the given attempt count
// (1-indexed), plus additive jitter of 0-20% of the base delay. Jitter is
// never subtracted, so expected delays are monotonically non-decreasing
// across the ladder. jitter must be in [0, 1).
func backoffDelay(attempts int, jitter float64) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffLadder) {
		idx = len(backoffLadder) - 1
	}
	base := backoffLadder[idx]
	return base + time.Duration(float64(base)*0.2*jitter)
}
