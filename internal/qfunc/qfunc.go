// Package qfunc wraps the value function behind the adapter boundary the
// training driver talks to. The driver hands it stacked observations and a
// precomputed error signal; it never owns replay state.
package qfunc

import (
	"fmt"
	"math/rand"
)

// Estimator is a per-action value estimator over stacked observations.
type Estimator interface {
	// Predict returns one value estimate per discrete action.
	Predict(frames, goals []float32) []float32
	// ApplyTD performs one gradient step for the given action using the
	// precomputed (already clipped) error signal.
	ApplyTD(frames, goals []float32, action int, signal float32)
	// Parameters returns a copy of all trainable parameters.
	Parameters() []float32
	// SetParameters overwrites all trainable parameters.
	SetParameters(params []float32) error
	// NumActions returns the size of the discrete action space.
	NumActions() int
}

// Linear is a linear value estimator: one weight row plus bias per action
// over the concatenated stacked-frame and stacked-goal features.
type Linear struct {
	numActions int
	frameLen   int
	goalLen    int
	lr         float32

	// Row layout: frameLen frame weights, goalLen goal weights, one bias.
	w      []float32
	stride int
}

// NewLinear creates a linear estimator with small random initial weights.
func NewLinear(frameLen, goalLen, numActions int, learningRate float64, seed int64) (*Linear, error) {
	if frameLen <= 0 || goalLen <= 0 || numActions <= 0 {
		return nil, fmt.Errorf("qfunc: dimensions must be positive, got frames=%d goals=%d actions=%d",
			frameLen, goalLen, numActions)
	}
	if learningRate <= 0 {
		return nil, fmt.Errorf("qfunc: learning rate must be positive, got %v", learningRate)
	}
	stride := frameLen + goalLen + 1
	rng := rand.New(rand.NewSource(seed))
	w := make([]float32, numActions*stride)
	for i := range w {
		w[i] = float32(rng.NormFloat64()) * 0.01
	}
	return &Linear{
		numActions: numActions,
		frameLen:   frameLen,
		goalLen:    goalLen,
		lr:         float32(learningRate),
		w:          w,
		stride:     stride,
	}, nil
}

// Predict computes per-action values for a single stacked observation.
func (l *Linear) Predict(frames, goals []float32) []float32 {
	out := make([]float32, l.numActions)
	for a := 0; a < l.numActions; a++ {
		row := l.w[a*l.stride : (a+1)*l.stride]
		var v float32
		for i, x := range frames {
			v += row[i] * x
		}
		for i, x := range goals {
			v += row[l.frameLen+i] * x
		}
		out[a] = v + row[l.stride-1]
	}
	return out
}

// ApplyTD applies one SGD step to the action's row. signal is the error in
// value space (target minus prediction); the gradient of the squared error
// with respect to the row is -signal * features, so the row moves by
// +lr * signal * features.
func (l *Linear) ApplyTD(frames, goals []float32, action int, signal float32) {
	if action < 0 || action >= l.numActions {
		return
	}
	row := l.w[action*l.stride : (action+1)*l.stride]
	step := l.lr * signal
	for i, x := range frames {
		row[i] += step * x
	}
	for i, x := range goals {
		row[l.frameLen+i] += step * x
	}
	row[l.stride-1] += step
}

// Parameters returns a copy of the weight matrix.
func (l *Linear) Parameters() []float32 {
	out := make([]float32, len(l.w))
	copy(out, l.w)
	return out
}

// SetParameters overwrites the weight matrix.
func (l *Linear) SetParameters(params []float32) error {
	if len(params) != len(l.w) {
		return fmt.Errorf("qfunc: parameter length %d, want %d", len(params), len(l.w))
	}
	copy(l.w, params)
	return nil
}

// NumActions returns the size of the action space.
func (l *Linear) NumActions() int {
	return l.numActions
}

// Pair holds a live estimator and its delayed target copy. The target is
// only ever changed by SyncTarget, which hard-copies the live parameters.
type Pair struct {
	live   Estimator
	target Estimator
}

// NewPair creates a pair and immediately syncs the target to the live
// estimator so both start identical.
func NewPair(live, target Estimator) (*Pair, error) {
	if live.NumActions() != target.NumActions() {
		return nil, fmt.Errorf("qfunc: live and target action spaces differ: %d vs %d",
			live.NumActions(), target.NumActions())
	}
	p := &Pair{live: live, target: target}
	if err := p.SyncTarget(); err != nil {
		return nil, err
	}
	return p, nil
}

// Live returns the live estimator.
func (p *Pair) Live() Estimator {
	return p.live
}

// Target returns the delayed-copy estimator.
func (p *Pair) Target() Estimator {
	return p.target
}

// SyncTarget copies the live parameters into the target exactly.
func (p *Pair) SyncTarget() error {
	return p.target.SetParameters(p.live.Parameters())
}
