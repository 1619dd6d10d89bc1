package stream

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before the next reconnection attempt: capped
// exponential growth with jitter. Setting Factor to 1 with zero Jitter yields
// a constant retry interval.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultBackoff starts at five seconds and grows gently toward a one minute
// ceiling.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 5 * time.Second,
		Max:     time.Minute,
		Factor:  1.5,
		Jitter:  0.2,
	}
}

// Delay returns the wait before attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = 5 * time.Second
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	max := b.Max
	if max <= 0 {
		max = initial
	}

	delay := float64(initial)
	for i := 1; i < attempt; i++ {
		delay *= factor
		if delay >= float64(max) {
			delay = float64(max)
			break
		}
	}
	if delay > float64(max) {
		delay = float64(max)
	}

	if b.Jitter > 0 {
		// Spread attempts across +/- Jitter of the base delay.
		spread := delay * b.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}
	return time.Duration(delay)
}
