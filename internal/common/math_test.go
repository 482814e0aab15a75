package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbs(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{"positive number", 5, 5},
		{"negative number", -5, 5},
		{"zero", 0, 0},
		{"large negative", -1000000, 1000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Abs(tt.input))
		})
	}
}

func TestMinMax(t *testing.T) {
	tests := []struct {
		name     string
		a, b     int
		min, max int
	}{
		{"a smaller", 3, 5, 3, 5},
		{"b smaller", 7, 2, 2, 7},
		{"equal", 4, 4, 4, 4},
		{"negative numbers", -5, -3, -5, -3},
		{"positive and negative", 5, -3, -3, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.min, Min(tt.a, tt.b))
			assert.Equal(t, tt.max, Max(tt.a, tt.b))
		})
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi float64
		expected  float64
	}{
		{"inside range", 0.5, 0, 1, 0.5},
		{"below range", -2, 0, 1, 0},
		{"above range", 3, 0, 1, 1},
		{"at lower bound", 0, 0, 1, 0},
		{"at upper bound", 1, 0, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clamp(tt.v, tt.lo, tt.hi))
		})
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi float32
		expected  float32
	}{
		{"inside range", 0.25, -1, 1, 0.25},
		{"below range", -5, -1, 1, -1},
		{"above range", 5, -1, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clip(tt.v, tt.lo, tt.hi))
		})
	}
}

func TestArgmax(t *testing.T) {
	tests := []struct {
		name     string
		values   []float32
		expected int
	}{
		{"single value", []float32{1}, 0},
		{"max at end", []float32{0.1, 0.2, 0.9}, 2},
		{"max at start", []float32{3, 1, 2}, 0},
		{"negative values", []float32{-3, -1, -2}, 1},
		{"tie prefers earliest", []float32{2, 2, 1}, 0},
		{"empty slice", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Argmax(tt.values))
		})
	}
}
