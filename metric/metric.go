// Package metric provides the distance metrics used for vector comparison.
package metric

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Metric identifies the distance metric used for vector comparison.
type Metric int

const (
	// L2Squared is the squared Euclidean distance.
	L2Squared Metric = iota
	// Cosine is the cosine distance, 1 - cosine similarity.
	Cosine
)

func (m Metric) String() string {
	switch m {
	case L2Squared:
		return "l2_squared"
	case Cosine:
		return "cosine"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Parse maps a configuration string onto a Metric.
func Parse(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l2", "l2_squared", "euclidean":
		return L2Squared, nil
	case "cosine":
		return Cosine, nil
	default:
		return 0, fmt.Errorf("unsupported metric %q", s)
	}
}

// Func computes the distance between two equal-length vectors.
// Both metrics yield non-negative distances, so a monotonic
// similarity transform such as 1/(1+d) is always well-defined.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case L2Squared:
		return SquaredL2, nil
	case Cosine:
		return CosineDistance, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}

	return ret
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var distance float32
	for i := range a {
		distance += (a[i] - b[i]) * (a[i] - b[i])
	}

	return distance
}

// CosineDistance calculates 1 minus the cosine similarity of two vectors.
// A zero-magnitude input yields the neutral distance 1.
// Assumes vectors are the same length (caller's responsibility).
func CosineDistance(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}

	if na == 0 || nb == 0 {
		return 1
	}

	return 1 - dot/(sqrt(na)*sqrt(nb))
}

// Magnitude calculates the L2 norm of v.
func Magnitude(v []float32) float32 {
	return sqrt(Dot(v, v))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}

	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}

	inv := 1 / sqrt(norm2)
	for i := range v {
		v[i] *= inv
	}

	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}

	return dst, true
}

func sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
