package windowing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodicHannOverlapAddIsConstant(t *testing.T) {
	const size, hop = 2048, 512
	coeffs := NewHann(size, false).Coefficients()

	// 75% overlap of a periodic Hann sums to 2 everywhere
	for n := range hop {
		sum := 0.0
		for k := 0; k < size/hop; k++ {
			sum += coeffs[n+k*hop]
		}
		assert.InDelta(t, 2.0, sum, 1e-9)
	}
}

func TestHannApplyInPlaceRejectsWrongLength(t *testing.T) {
	h := NewHann(8, true)
	assert.Error(t, h.ApplyInPlace(make([]float64, 7)))

	signal := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	require.NoError(t, h.ApplyInPlace(signal))
	assert.InDelta(t, 0.0, signal[0], 1e-12)
	assert.InDelta(t, 0.0, signal[7], 1e-12)
	assert.Equal(t, h.Apply([]float64{1, 1, 1, 1, 1, 1, 1, 1}), signal)
}
