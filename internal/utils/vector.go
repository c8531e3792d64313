package utils

import (
	"errors"
	"math"
	"sort"
)

var (
	ErrEmptyVector       = errors.New("vectors cannot be empty")
	ErrDimensionMismatch = errors.New("vectors must have the same dimension")
)

// CosineSimilarity returns the cosine of the angle between a and b. A zero
// vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

// Scored pairs an item with its similarity to a query.
type Scored[T any] struct {
	Item       T
	Similarity float32
}

// TopK keeps the items scoring at least threshold and returns the best k,
// highest first. Items that cannot be compared are skipped.
func TopK[T any](query []float32, items []T, vector func(T) []float32, threshold float32, k int) []Scored[T] {
	scored := make([]Scored[T], 0, len(items))
	for _, item := range items {
		sim, err := CosineSimilarity(query, vector(item))
		if err != nil || sim < threshold {
			continue
		}
		scored = append(scored, Scored[T]{Item: item, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
