package util

import (
	"math/rand"
	"time"
)

const (
	backoffJitter = .2
	backoffFactor = 1.6
)

// RetryDelay is the wait before the given retry of an upload: zero for the
// first attempt, then growing by backoffFactor from base up to max with
// backoffJitter of randomization.
func RetryDelay(base, max time.Duration, retries int) time.Duration {
	return Backoff(float64(base), float64(max), backoffJitter, backoffFactor, retries)
}

// Backoff returns a delay with an exponential backoff based on the number of
// retries. Same algorithm used in gRPC.
func Backoff(base, max, jitter, factor float64, retries int) time.Duration {
	if retries == 0 {
		return 0
	}

	backoff := base
	for backoff < max && retries > 0 {
		backoff *= factor
		retries--
	}
	if backoff > max {
		backoff = max
	}

	// spread retries of simultaneous failures apart
	backoff *= 1 + jitter*(rand.Float64()*2-1)
	if backoff < 0 {
		return 0
	}

	return time.Duration(backoff)
}
