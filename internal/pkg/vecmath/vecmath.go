// Package vecmath holds the vector helpers shared by the embedders and the
// vector index.
package vecmath

import (
	"errors"
	"fmt"
	"math"
)

// DimensionMismatchError means a vector does not have the configured
// length. It is a configuration problem and is never retried.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	Source   string
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch in %s: expected %d, got %d", e.Source, e.Expected, e.Actual)
}

func IsDimensionMismatch(err error) bool {
	var target *DimensionMismatchError
	return errors.As(err, &target)
}

// Check returns a DimensionMismatchError when len(vec) != want.
func Check(source string, vec []float32, want int) error {
	if len(vec) != want {
		return &DimensionMismatchError{Expected: want, Actual: len(vec), Source: source}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// the zero vector. Lengths must match.
func Cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Normalize scales vec to unit length in place. Zero vectors are left alone.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Clamp01 maps a similarity onto [0, 1].
func Clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
