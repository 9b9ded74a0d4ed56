package vecmath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-6)
	assert.Equal(t, float32(0), Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check("test", make([]float32, 3), 3))

	err := Check("test", make([]float32, 2), 3)
	assert.True(t, IsDimensionMismatch(err))
	assert.EqualError(t, err, "dimension mismatch in test: expected 3, got 2")
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, float32(0), Clamp01(-0.4))
	assert.Equal(t, float32(0.5), Clamp01(0.5))
	assert.Equal(t, float32(1), Clamp01(1.0001))
}
