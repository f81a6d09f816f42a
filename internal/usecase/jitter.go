package usecase

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Jitter draws refresh bounds uniformly from [min, max] so refreshes never
// happen on an exact period.
type Jitter struct {
	mu  sync.Mutex
	rng *rand.Rand
	min time.Duration
	max time.Duration
}

// NewJitter creates a jitter source. A zero seed draws a random one.
func NewJitter(min, max time.Duration, seed uint64) *Jitter {
	if max < min {
		min, max = max, min
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Jitter{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		min: min,
		max: max,
	}
}

// Next returns a duration in [min, max].
func (j *Jitter) Next() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	span := int64(j.max - j.min)
	if span <= 0 {
		return j.min
	}
	return j.min + time.Duration(j.rng.Int64N(span+1))
}
