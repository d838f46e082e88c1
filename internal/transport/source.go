package transport

import (
	"math/rand/v2"
	"sync"
)

// Source is the randomness behind link quality and transmit outcomes
type Source interface {
	// IntRange returns a value in [min, max]
	IntRange(min, max int) int
	// Float64 returns a value in [0, 1)
	Float64() float64
}

// SeededSource is a deterministic Source safe for concurrent use
type SeededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource creates a PCG-backed source. Equal seeds give equal sequences.
func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

func (s *SeededSource) IntRange(min, max int) int {
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + s.rng.IntN(max-min+1)
}

func (s *SeededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
