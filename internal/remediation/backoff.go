package remediation

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes jittered exponential delays between remediation attempts.
type Backoff struct {
	Base   time.Duration
	Jitter float64
	Max    time.Duration

	// random returns U[0,1); swapped out in tests.
	random func() float64
}

// NewBackoff creates a backoff policy.
func NewBackoff(base time.Duration, jitter float64, max time.Duration) *Backoff {
	return &Backoff{
		Base:   base,
		Jitter: jitter,
		Max:    max,
		random: rand.Float64,
	}
}

// Delay returns the wait before retry attempt (0-based). The delay doubles
// per attempt with up to Jitter relative noise on top, capped at Max.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	delay *= 1 + b.random()*b.Jitter

	if capped := float64(b.Max); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}
