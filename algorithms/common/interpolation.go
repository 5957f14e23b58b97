package common

import (
	"math"
)

// InterpolationType defines interpolation method
type InterpolationType int

const (
	Linear InterpolationType = iota
	Lanczos
)

// Interpolator provides sample-rate conversion
type Interpolator struct {
	method  InterpolationType
	lobes   float64 // Lanczos parameter a
	minTaps int
}

// NewInterpolator creates a new interpolator
func NewInterpolator(method InterpolationType) *Interpolator {
	return &Interpolator{
		method:  method,
		lobes:   3.0,
		minTaps: 6,
	}
}

// Interpolate performs interpolation at fractional index
func (interp *Interpolator) Interpolate(data []float64, index float64) float64 {
	switch interp.method {
	case Lanczos:
		return interp.lanczosInterpolate(data, index, 1.0)
	default:
		return interp.linearInterpolate(data, index)
	}
}

// linearInterpolate performs linear interpolation
func (interp *Interpolator) linearInterpolate(data []float64, index float64) float64 {
	if len(data) == 0 {
		return 0.0
	}

	if index <= 0 {
		return data[0]
	}
	if index >= float64(len(data)-1) {
		return data[len(data)-1]
	}

	i := int(index)
	frac := index - float64(i)

	return data[i] + frac*(data[i+1]-data[i])
}

// lanczosInterpolate evaluates a windowed-sinc reconstruction at index.
// cutoff < 1 widens the kernel so it also acts as an anti-aliasing filter.
func (interp *Interpolator) lanczosInterpolate(data []float64, index float64, cutoff float64) float64 {
	if len(data) < interp.minTaps {
		return interp.linearInterpolate(data, index)
	}

	a := interp.lobes
	support := a / cutoff
	lo := int(math.Floor(index - support + 1))
	hi := int(math.Floor(index + support))

	sum := 0.0
	weightSum := 0.0
	for j := lo; j <= hi; j++ {
		if j < 0 || j >= len(data) {
			continue
		}
		w := interp.lanczosKernel((index-float64(j))*cutoff, a)
		sum += data[j] * w
		weightSum += w
	}

	if math.Abs(weightSum) < 1e-12 {
		return 0.0
	}
	return sum / weightSum
}

// lanczosKernel computes Lanczos kernel function
func (interp *Interpolator) lanczosKernel(x, a float64) float64 {
	if math.Abs(x) < 1e-10 {
		return 1.0
	}
	if math.Abs(x) >= a {
		return 0.0
	}

	px := math.Pi * x
	return (a * math.Sin(px) * math.Sin(px/a)) / (px * px)
}

// ResampleSignal resamples a signal to a new sample rate
func (interp *Interpolator) ResampleSignal(signal []float64, originalRate, targetRate int) []float64 {
	if len(signal) == 0 || originalRate <= 0 || targetRate <= 0 {
		return signal
	}
	if originalRate == targetRate {
		out := make([]float64, len(signal))
		copy(out, signal)
		return out
	}

	ratio := float64(originalRate) / float64(targetRate)
	newLength := int(math.Round(float64(len(signal)) / ratio))

	if newLength <= 0 {
		return []float64{}
	}

	cutoff := 1.0
	if ratio > 1 {
		cutoff = 1.0 / ratio
	}

	resampled := make([]float64, newLength)
	for i := range resampled {
		sourceIndex := float64(i) * ratio
		if interp.method == Lanczos {
			resampled[i] = interp.lanczosInterpolate(signal, sourceIndex, cutoff)
		} else {
			resampled[i] = interp.linearInterpolate(signal, sourceIndex)
		}
	}

	return resampled
}
