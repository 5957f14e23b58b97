package chroma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromCQTFoldsOctaves(t *testing.T) {
	// 84 bins from MIDI 24 (C1); A at bins 9, 21, 33
	frame := make([]float64, 84)
	frame[9] = 1
	frame[21] = 1
	frame[33] = 2
	frame[0] = 1 // C

	chroma := FromCQT([][]float64{frame, make([]float64, 84)}, 24)
	require.Len(t, chroma, 2)

	assert.InDelta(t, 6.0/7.0, chroma[0][9], 1e-12)
	assert.InDelta(t, 1.0/7.0, chroma[0][0], 1e-12)
	assert.Equal(t, make([]float64, Bins), chroma[1])
	assert.Equal(t, "A", Labels()[9])
}

func TestCosineSimilarity(t *testing.T) {
	a := []float64{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	b := []float64{0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-12)
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-12)
	assert.Zero(t, CosineSimilarity(a, make([]float64, Bins)))
}

func TestSequenceSimilarity(t *testing.T) {
	c := make([]float64, Bins)
	c[0] = 1
	g := make([]float64, Bins)
	g[7] = 1
	silent := make([]float64, Bins)

	assert.InDelta(t, 1.0, SequenceSimilarity([][]float64{c, c, silent}, [][]float64{c, c, silent}), 1e-12)
	assert.InDelta(t, 0.5, SequenceSimilarity([][]float64{c, c}, [][]float64{c, g}), 1e-12)
	assert.InDelta(t, 0.5, SequenceSimilarity([][]float64{c, silent}, [][]float64{c, c, c}), 1e-12)
	assert.Zero(t, SequenceSimilarity(nil, nil))
}
