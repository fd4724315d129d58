package realtime

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Reconnect delay bounds, in seconds.
const (
	// backoffFloor is the initial delay and the lowest delay ever produced.
	backoffFloor = 1.0

	// backoffCeiling is the point past which delays stop growing.
	backoffCeiling = 10 * 60.0

	// backoffCeilingJitter is the spread applied around the ceiling.
	backoffCeilingJitter = 60.0

	// backoffStepLow and backoffStepHigh bound the random step added per retry.
	backoffStepLow  = -1.0
	backoffStepHigh = 5.0
)

// Backoff produces randomised reconnect delays.
//
// Each call to Next adds a uniform step in [-1s, +5s) to the previous delay,
// never going below 1s. Once the delay would pass 10 minutes it is redrawn
// from [9m, 11m) instead, so retries keep a bounded, jittered cadence.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Backoff struct {
	mu      sync.Mutex
	seconds float64

	// random returns a value in [0, 1). Replaced in tests.
	random func() float64
}

// NewBackoff returns a Backoff at the floor delay.
func NewBackoff() *Backoff {
	return &Backoff{
		seconds: backoffFloor,
		random:  rand.Float64,
	}
}

// Next advances the delay and returns it.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.seconds + b.uniform(backoffStepLow, backoffStepHigh)
	switch {
	case next > backoffCeiling:
		next = backoffCeiling + b.uniform(-backoffCeilingJitter, backoffCeilingJitter)
	case next < backoffFloor:
		next = backoffFloor
	}
	b.seconds = next

	return toDuration(next)
}

// Reset returns the delay to the floor. Called after every successful open.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.seconds = backoffFloor
	b.mu.Unlock()
}

// Current returns the delay without advancing it.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return toDuration(b.seconds)
}

func (b *Backoff) uniform(low, high float64) float64 {
	return low + (high-low)*b.random()
}

func toDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
