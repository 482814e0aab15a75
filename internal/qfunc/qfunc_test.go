package qfunc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLinear(t *testing.T) *Linear {
	t.Helper()
	l, err := NewLinear(8, 2, 3, 0.1, 42)
	require.NoError(t, err)
	return l
}

func TestLinearValidation(t *testing.T) {
	_, err := NewLinear(0, 2, 3, 0.1, 1)
	assert.Error(t, err)
	_, err = NewLinear(8, 2, 0, 0.1, 1)
	assert.Error(t, err)
	_, err = NewLinear(8, 2, 3, 0, 1)
	assert.Error(t, err)
}

func TestPredictDeterministic(t *testing.T) {
	a := newTestLinear(t)
	b := newTestLinear(t)

	frames := make([]float32, 8)
	goals := []float32{0.5, -0.5}
	for i := range frames {
		frames[i] = float32(i) * 0.1
	}

	qa := a.Predict(frames, goals)
	qb := b.Predict(frames, goals)
	assert.Len(t, qa, 3)
	assert.Equal(t, qa, qb, "same seed must give identical predictions")
}

func TestApplyTDMovesTowardTarget(t *testing.T) {
	l := newTestLinear(t)
	frames := []float32{1, 0, 0, 0, 1, 0, 0, 0}
	goals := []float32{1, 0}

	initial := l.Predict(frames, goals)
	target := initial[1] + 2.0
	for i := 0; i < 50; i++ {
		cur := l.Predict(frames, goals)[1]
		l.ApplyTD(frames, goals, 1, target-cur)
	}
	after := l.Predict(frames, goals)
	assert.InDelta(t, float64(target), float64(after[1]), 0.05)

	// Other actions are untouched by the update.
	assert.Equal(t, initial[0], after[0])
	assert.Equal(t, initial[2], after[2])
}

func TestApplyTDOutOfRangeActionIgnored(t *testing.T) {
	l := newTestLinear(t)
	frames := make([]float32, 8)
	goals := make([]float32, 2)
	before := l.Parameters()
	l.ApplyTD(frames, goals, -1, 1.0)
	l.ApplyTD(frames, goals, 3, 1.0)
	assert.Equal(t, before, l.Parameters())
}

func TestSetParametersLengthCheck(t *testing.T) {
	l := newTestLinear(t)
	assert.Error(t, l.SetParameters(make([]float32, 5)))
	assert.NoError(t, l.SetParameters(make([]float32, len(l.Parameters()))))
}

func TestPairSync(t *testing.T) {
	live, err := NewLinear(8, 2, 3, 0.1, 1)
	require.NoError(t, err)
	target, err := NewLinear(8, 2, 3, 0.1, 2)
	require.NoError(t, err)

	pair, err := NewPair(live, target)
	require.NoError(t, err)

	// NewPair syncs immediately: bit-for-bit equality.
	assert.Equal(t, live.Parameters(), target.Parameters())

	// Updating the live estimator leaves the target frozen.
	frames := []float32{1, 1, 1, 1, 0, 0, 0, 0}
	goals := []float32{1, -1}
	frozen := target.Parameters()
	live.ApplyTD(frames, goals, 0, 0.7)
	assert.Equal(t, frozen, target.Parameters())
	assert.NotEqual(t, live.Parameters(), target.Parameters())

	// SyncTarget restores exact equality.
	require.NoError(t, pair.SyncTarget())
	assert.Equal(t, live.Parameters(), target.Parameters())
}

func TestPairActionSpaceMismatch(t *testing.T) {
	live, err := NewLinear(8, 2, 3, 0.1, 1)
	require.NoError(t, err)
	target, err := NewLinear(8, 2, 4, 0.1, 1)
	require.NoError(t, err)
	_, err = NewPair(live, target)
	assert.Error(t, err)
}
