package ratelimit

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay imposed after consecutive failures:
// Min * Factor^(failures-1), capped at Max. With Jitter the delay is drawn
// from [d/2, d].
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool

	rnd func() float64
}

func NewBackoff(min, max time.Duration, factor float64) *Backoff {
	return &Backoff{
		Min:    min,
		Max:    max,
		Factor: factor,
		Jitter: true,
		rnd:    rand.Float64,
	}
}

// Delay returns zero before the first failure.
func (b *Backoff) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := float64(b.Min) * math.Pow(b.Factor, float64(failures-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter && b.rnd != nil {
		d *= 0.5 + b.rnd()*0.5
	}
	return time.Duration(d)
}
