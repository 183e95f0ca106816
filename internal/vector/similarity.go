package vector

import "math"

// Dot returns the inner product of two vectors.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when either is zero.
func CosineSimilarity(a, b []float32) float64 {
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

func (m Metric) score(query []float32, queryNorm float64, vec []float32, vecNorm float64) float64 {
	dot := Dot(query, vec)
	if m == InnerProduct {
		return dot
	}
	if queryNorm == 0 || vecNorm == 0 {
		return 0
	}
	return dot / (queryNorm * vecNorm)
}
