package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-6)

	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Zero(t, sim)

	_, err = CosineSimilarity(nil, []float32{1})
	assert.ErrorIs(t, err, ErrEmptyVector)

	_, err = CosineSimilarity([]float32{1, 2}, []float32{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestTopK(t *testing.T) {
	type doc struct {
		name string
		vec  []float32
	}
	docs := []doc{
		{"orthogonal", []float32{0, 1}},
		{"close", []float32{0.9, 0.1}},
		{"exact", []float32{1, 0}},
		{"broken", []float32{1}},
		{"near", []float32{0.8, 0.3}},
	}

	got := TopK([]float32{1, 0}, docs, func(d doc) []float32 { return d.vec }, 0.7, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].Item.name)
	assert.Equal(t, "close", got[1].Item.name)

	none := TopK([]float32{1, 0}, docs, func(d doc) []float32 { return d.vec }, 1.1, 3)
	assert.Empty(t, none)
}
