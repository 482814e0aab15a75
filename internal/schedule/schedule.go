// Package schedule provides exploration-rate schedules for epsilon-greedy
// action selection. Schedules are immutable after construction and safe to
// query from multiple call sites.
package schedule

import "fmt"

// Schedule maps an elapsed step count to an exploration probability.
type Schedule interface {
	Value(t int) float64
}

// Linear interpolates from Start at step 0 to End at step DecaySteps, then
// stays at End.
type Linear struct {
	decaySteps int
	start      float64
	end        float64
}

// NewLinear creates a linear schedule. Both endpoints must be probabilities.
func NewLinear(decaySteps int, end, start float64) (*Linear, error) {
	if decaySteps <= 0 {
		return nil, fmt.Errorf("schedule: decay steps must be positive, got %d", decaySteps)
	}
	if start < 0 || start > 1 || end < 0 || end > 1 {
		return nil, fmt.Errorf("schedule: endpoints must be in [0, 1], got start=%v end=%v", start, end)
	}
	return &Linear{decaySteps: decaySteps, start: start, end: end}, nil
}

// Value returns the interpolated exploration probability at step t.
func (s *Linear) Value(t int) float64 {
	if t >= s.decaySteps {
		return s.end
	}
	if t < 0 {
		return s.start
	}
	frac := float64(t) / float64(s.decaySteps)
	return s.start + frac*(s.end-s.start)
}

// Constant always returns the same exploration probability.
type Constant struct {
	v float64
}

// NewConstant creates a constant schedule.
func NewConstant(v float64) (*Constant, error) {
	if v < 0 || v > 1 {
		return nil, fmt.Errorf("schedule: value must be in [0, 1], got %v", v)
	}
	return &Constant{v: v}, nil
}

// Value returns the fixed exploration probability.
func (s *Constant) Value(int) float64 {
	return s.v
}
