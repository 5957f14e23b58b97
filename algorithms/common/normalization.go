package common

import (
	"math"
)

// NormalizationType defines normalization method
type NormalizationType int

const (
	Peak NormalizationType = iota
	RMSNorm
)

// silenceFloor is the peak below which a signal is left untouched
const silenceFloor = 1e-10

// Normalizer provides signal normalization
type Normalizer struct {
	method   NormalizationType
	targetDB float64
}

// NewNormalizer creates a new normalizer
func NewNormalizer(method NormalizationType) *Normalizer {
	return &Normalizer{
		method:   method,
		targetDB: -20.0,
	}
}

// Normalize returns a normalized copy of signal
func (n *Normalizer) Normalize(signal []float64) []float64 {
	switch n.method {
	case RMSNorm:
		return n.rmsNormalize(signal)
	default:
		return n.peakNormalize(signal)
	}
}

// NormalizeInPlace normalizes signal in place
func (n *Normalizer) NormalizeInPlace(signal []float64) {
	copy(signal, n.Normalize(signal))
}

// peakNormalize scales so the largest absolute sample is 1.
// Silent input is returned unchanged.
func (n *Normalizer) peakNormalize(signal []float64) []float64 {
	out := make([]float64, len(signal))
	copy(out, signal)

	peak := PeakAbs(signal)
	if peak < silenceFloor {
		return out
	}

	for i := range out {
		out[i] /= peak
	}
	// division can leave the peak a hair away from 1
	for i, v := range out {
		if math.Abs(v) > 1 {
			out[i] = math.Copysign(1, v)
		}
	}

	return out
}

// rmsNormalize scales the signal to the configured RMS level in dBFS
func (n *Normalizer) rmsNormalize(signal []float64) []float64 {
	out := make([]float64, len(signal))
	copy(out, signal)

	rms := RMS(signal)
	if rms < silenceFloor {
		return out
	}

	gain := math.Pow(10, n.targetDB/20.0) / rms
	for i := range out {
		out[i] *= gain
	}
	return out
}

// PeakNormalize is shorthand for NewNormalizer(Peak).Normalize
func PeakNormalize(signal []float64) []float64 {
	return NewNormalizer(Peak).Normalize(signal)
}
