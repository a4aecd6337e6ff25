// Package backoff computes retry delays for transient failures: exponential
// growth from a base, capped, with full jitter so concurrent workers do not
// stampede a recovering platform.
package backoff

import (
	"math/rand"
	"time"
)

type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
}

func New(base, cap time.Duration) Policy {
	return Policy{Base: base, Cap: cap, Factor: 2}
}

// Delay returns the pre-jitter delay for the given retry ordinal (0-based).
// Delays are non-decreasing up to the cap.
func (p Policy) Delay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}

	d := float64(p.Base)
	for i := 0; i < retry; i++ {
		d *= p.Factor
		if time.Duration(d) >= p.Cap {
			return p.Cap
		}
	}
	if time.Duration(d) > p.Cap {
		return p.Cap
	}
	return time.Duration(d)
}

// Jittered scales the delay by a random factor in [0.5, 1.0]. The lower
// bound keeps jittered delays monotonic across consecutive retries on
// average while still spreading redeliveries.
func (p Policy) Jittered(retry int) time.Duration {
	d := p.Delay(retry)
	return time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
}
