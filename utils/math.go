package utils

import "math"

// TopK returns the indices and values of the k largest elements
func TopK(scores []float64, k int) ([]int, []float64) {
	if k > len(scores) {
		k = len(scores)
	}

	type pair struct {
		index int
		value float64
	}

	pairs := make([]pair, len(scores))
	for i, v := range scores {
		pairs[i] = pair{i, v}
	}

	// Partial sort to get top k
	for i := 0; i < k; i++ {
		maxIdx := i
		for j := i + 1; j < len(pairs); j++ {
			if pairs[j].value > pairs[maxIdx].value {
				maxIdx = j
			}
		}
		pairs[i], pairs[maxIdx] = pairs[maxIdx], pairs[i]
	}

	indices := make([]int, k)
	values := make([]float64, k)
	for i := 0; i < k; i++ {
		indices[i] = pairs[i].index
		values[i] = pairs[i].value
	}

	return indices, values
}

// BottomK returns the indices and values of the k smallest elements.
// Used for nearest-neighbor lookups where smaller distance means closer.
func BottomK(scores []float64, k int) ([]int, []float64) {
	negated := make([]float64, len(scores))
	for i, v := range scores {
		negated[i] = -v
	}
	indices, values := TopK(negated, k)
	for i := range values {
		values[i] = -values[i]
	}
	return indices, values
}

// Argmax returns the index of the largest element, or -1 for an empty slice.
func Argmax(scores []float64) int {
	best := -1
	for i, v := range scores {
		if best < 0 || v > scores[best] {
			best = i
		}
	}
	return best
}

// SquaredDistance computes the squared Euclidean distance between two vectors
func SquaredDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("vectors must have same length")
	}

	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// EuclideanDistance computes the Euclidean distance between two vectors.
// It shares squared-distance semantics with SquaredDistance so that
// nearest-neighbor ordering and the ranking loss always agree.
func EuclideanDistance(a, b []float64) float64 {
	return math.Sqrt(SquaredDistance(a, b))
}
