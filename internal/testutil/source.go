// Package testutil holds deterministic collaborators for tests.
package testutil

import "sync"

// ScriptedSource replays queued values. Qualities feed IntRange and are
// returned as-is; draws feed Float64. An exhausted queue returns a failing
// value: min for IntRange and 0.999999 for Float64.
type ScriptedSource struct {
	mu         sync.Mutex
	qualities  []int
	draws      []float64
	intCalls   int
	floatCalls int
}

// NewScriptedSource creates an empty script
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{}
}

// Qualities appends link qualities returned by IntRange
func (s *ScriptedSource) Qualities(q ...int) *ScriptedSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qualities = append(s.qualities, q...)
	return s
}

// Draws appends values returned by Float64
func (s *ScriptedSource) Draws(d ...float64) *ScriptedSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws = append(s.draws, d...)
	return s
}

func (s *ScriptedSource) IntRange(min, _ int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intCalls++
	if len(s.qualities) == 0 {
		return min
	}
	q := s.qualities[0]
	s.qualities = s.qualities[1:]
	return q
}

func (s *ScriptedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floatCalls++
	if len(s.draws) == 0 {
		return 0.999999
	}
	d := s.draws[0]
	s.draws = s.draws[1:]
	return d
}

// IntCalls returns how many qualities were requested
func (s *ScriptedSource) IntCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intCalls
}

// FloatCalls returns how many draws were requested
func (s *ScriptedSource) FloatCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.floatCalls
}
