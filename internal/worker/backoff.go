package worker

import "time"

// RetryDelay computes the delay before re-delivering a job after failed
// attempt n (1-indexed): base * 2^(n-1), capped at max. The delay is
// monotonically increasing with the attempt count and never below base.
func RetryDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
