package spectral

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SpectralFlatness computes spectral flatness (Wiener entropy) of a power spectrum.
// Tonal frames sit near 0, white noise sits near exp(-gamma) ~ 0.56.
type SpectralFlatness struct {
	minThreshold float64 // amin floor applied to every power bin before the log
}

// NewSpectralFlatness creates a new spectral flatness calculator
func NewSpectralFlatness() *SpectralFlatness {
	return &SpectralFlatness{
		minThreshold: 1e-10,
	}
}

// Compute returns geometric mean / arithmetic mean of a power spectrum.
// Bins are floored at the threshold. A frame with no energy returns 0.
func (sf *SpectralFlatness) Compute(powerSpectrum []float64) float64 {
	if len(powerSpectrum) == 0 {
		return 0.0
	}

	logSum := 0.0
	arithmeticSum := 0.0
	rawSum := 0.0
	for _, p := range powerSpectrum {
		rawSum += p
		v := math.Max(p, sf.minThreshold)
		logSum += math.Log(v)
		arithmeticSum += v
	}

	if rawSum/float64(len(powerSpectrum)) <= sf.minThreshold {
		return 0.0
	}

	n := float64(len(powerSpectrum))
	geometricMean := math.Exp(logSum / n)
	arithmeticMean := arithmeticSum / n

	return math.Min(1.0, geometricMean/arithmeticMean)
}

// ComputeFrames processes magnitude frames, squaring them into power first
func (sf *SpectralFlatness) ComputeFrames(magnitudeSpectrogram [][]float64) []float64 {
	if len(magnitudeSpectrogram) == 0 {
		return []float64{}
	}

	ps := NewPowerSpectrum()
	flatness := make([]float64, len(magnitudeSpectrogram))
	for t, magnitudeSpectrum := range magnitudeSpectrogram {
		flatness[t] = sf.Compute(ps.Compute(magnitudeSpectrum))
	}

	return flatness
}

// Mean averages a flatness sequence
func (sf *SpectralFlatness) Mean(flatness []float64) float64 {
	if len(flatness) == 0 {
		return 0.0
	}
	return stat.Mean(flatness, nil)
}
