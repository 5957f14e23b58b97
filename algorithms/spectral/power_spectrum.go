package spectral

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// PowerSpectrum provides power and decibel conversions
type PowerSpectrum struct{}

// NewPowerSpectrum creates a new power spectrum calculator
func NewPowerSpectrum() *PowerSpectrum {
	return &PowerSpectrum{}
}

// Compute computes power spectral density from magnitude spectrum
func (ps *PowerSpectrum) Compute(magnitudeSpectrum []float64) []float64 {
	if len(magnitudeSpectrum) == 0 {
		return []float64{}
	}

	power := make([]float64, len(magnitudeSpectrum))
	for i, mag := range magnitudeSpectrum {
		power[i] = mag * mag
	}

	return power
}

// DecibelGrid is a magnitude grid in dB relative to its own maximum
type DecibelGrid struct {
	// Values is Time x Bin, each in [-topDB, 0]
	Values [][]float64 `json:"values"`
	// Reference is the maximum magnitude used as 0 dB
	Reference float64 `json:"reference"`
	MeanDB    float64 `json:"mean_db"`
	// Silent is set when the grid maximum was at or below amin
	Silent  bool    `json:"silent"`
	FloorDB float64 `json:"floor_db"`
}

// AmplitudeToDB converts magnitudes to 20*log10(max(amin, S)/ref) with ref
// the grid maximum, then floors every value at -topDB. A grid whose maximum
// does not exceed amin is reported silent and every cell sits at the floor.
func (ps *PowerSpectrum) AmplitudeToDB(magnitude [][]float64, amin, topDB float64) *DecibelGrid {
	grid := &DecibelGrid{
		Values:  make([][]float64, len(magnitude)),
		FloorDB: -topDB,
	}

	ref := 0.0
	for _, row := range magnitude {
		if len(row) > 0 {
			ref = math.Max(ref, floats.Max(row))
		}
	}
	grid.Reference = ref
	grid.Silent = ref <= amin

	refDB := 20.0 * math.Log10(math.Max(amin, ref))
	sum := 0.0
	count := 0
	for t, row := range magnitude {
		out := make([]float64, len(row))
		for b, v := range row {
			db := -topDB
			if !grid.Silent {
				db = 20.0*math.Log10(math.Max(amin, v)) - refDB
				if db < -topDB {
					db = -topDB
				}
			}
			out[b] = db
			sum += db
			count++
		}
		grid.Values[t] = out
	}

	if count > 0 {
		grid.MeanDB = sum / float64(count)
	}
	return grid
}
