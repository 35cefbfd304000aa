package session

import (
	"math"
	"math/rand"
	"time"
)

// Delay returns the wait before retry attempt n (1-based). Jitter scales the
// exponential delay by a factor in [0.5, 1.5) and MaxDelay caps the result,
// jitter included. A nil rng disables jitter.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.InitialDelay) * math.Pow(math.Max(b.Multiplier, 1), float64(attempt-1))
	if b.Jitter && rng != nil {
		d *= 0.5 + rng.Float64()
	}
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	return time.Duration(d)
}
