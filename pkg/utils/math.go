package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float32
	for _, v := range x {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range x {
		x[i] *= norm
	}
}

// Clamp01 limits v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MaxNormalize divides non-negative scores by the largest one, mapping them into [0, 1] while
// keeping their ratios. When the largest score is not positive every score becomes 0.
func MaxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	hi := 0.0
	for _, s := range scores {
		hi = math.Max(hi, s)
	}
	if hi <= 0 {
		return out
	}
	for i, s := range scores {
		out[i] = Clamp01(s / hi)
	}
	return out
}
