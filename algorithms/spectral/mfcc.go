package spectral

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MFCC computes Mel-Frequency Cepstral Coefficients from magnitude frames.
// The metrics engine compares per-frame MFCC vectors as a timbral distance.
type MFCC struct {
	params     MFCCParams
	sampleRate int

	filterBank [][]float64
	dctMatrix  [][]float64
	fftSize    int
}

// MFCCParams contains parameters for MFCC computation
type MFCCParams struct {
	NumCoefficients int     `json:"num_coefficients"` // default 20
	NumMelFilters   int     `json:"num_mel_filters"`  // default 40
	LowFreq         float64 `json:"low_freq"`
	HighFreq        float64 `json:"high_freq"` // default sampleRate/2
	UseLiftering    bool    `json:"use_liftering"`
	LifterCoeff     float64 `json:"lifter_coeff"` // default 22
}

// DefaultMFCCParams returns the parameters used for timbral comparison
func DefaultMFCCParams(sampleRate int) MFCCParams {
	return MFCCParams{
		NumCoefficients: 20,
		NumMelFilters:   40,
		HighFreq:        float64(sampleRate) / 2.0,
		UseLiftering:    true,
		LifterCoeff:     22.0,
	}
}

// NewMFCC creates a new MFCC computer, filling unset parameters with defaults
func NewMFCC(sampleRate int, params MFCCParams) *MFCC {
	defaults := DefaultMFCCParams(sampleRate)
	if params.NumCoefficients <= 0 {
		params.NumCoefficients = defaults.NumCoefficients
	}
	if params.NumMelFilters <= 0 {
		params.NumMelFilters = defaults.NumMelFilters
	}
	if params.HighFreq <= 0 {
		params.HighFreq = defaults.HighFreq
	}
	if params.LifterCoeff <= 0 {
		params.LifterCoeff = defaults.LifterCoeff
	}

	return &MFCC{
		params:     params,
		sampleRate: sampleRate,
	}
}

// initialize builds the filter bank and DCT matrix for an FFT size
func (m *MFCC) initialize(fftSize int) error {
	if fftSize <= 0 {
		return fmt.Errorf("invalid FFT size: %d", fftSize)
	}

	m.filterBank = melFilterBank(m.params.NumMelFilters, fftSize, m.sampleRate, m.params.LowFreq, m.params.HighFreq)

	// Orthonormal DCT-II
	numFilters := m.params.NumMelFilters
	m.dctMatrix = make([][]float64, m.params.NumCoefficients)
	for k := range m.dctMatrix {
		scale := math.Sqrt(2.0 / float64(numFilters))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(numFilters))
		}
		row := make([]float64, numFilters)
		for n := range row {
			row[n] = scale * math.Cos(math.Pi*float64(k)*(float64(n)+0.5)/float64(numFilters))
		}
		m.dctMatrix[k] = row
	}

	m.fftSize = fftSize
	return nil
}

// Compute calculates the coefficients of one magnitude spectrum (N/2+1 bins)
func (m *MFCC) Compute(magnitudeSpectrum []float64) ([]float64, error) {
	if len(magnitudeSpectrum) < 2 {
		return nil, fmt.Errorf("magnitude spectrum too short: %d bins", len(magnitudeSpectrum))
	}

	fftSize := (len(magnitudeSpectrum) - 1) * 2
	if fftSize != m.fftSize {
		if err := m.initialize(fftSize); err != nil {
			return nil, fmt.Errorf("failed to initialize MFCC: %w", err)
		}
	}

	power := NewPowerSpectrum().Compute(magnitudeSpectrum)
	logMel := make([]float64, len(m.filterBank))
	for i, filter := range m.filterBank {
		logMel[i] = math.Log(math.Max(floats.Dot(filter, power), 1e-10))
	}

	coeffs := make([]float64, m.params.NumCoefficients)
	for k, row := range m.dctMatrix {
		sum := 0.0
		for n := 0; n < len(logMel) && n < len(row); n++ {
			sum += logMel[n] * row[n]
		}
		coeffs[k] = sum
	}

	if m.params.UseLiftering {
		// C0 is left alone
		for i := 1; i < len(coeffs); i++ {
			coeffs[i] *= 1.0 + (m.params.LifterCoeff/2.0)*math.Sin(math.Pi*float64(i)/m.params.LifterCoeff)
		}
	}

	return coeffs, nil
}

// hzToMel uses the HTK formula
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank returns numFilters triangular filters over the fftSize/2+1
// bins. Edges are equally spaced in mel between low and high and each bin is
// weighted at its own centre frequency, so narrow low filters never collapse
// onto a single bin.
func melFilterBank(numFilters, fftSize, sampleRate int, low, high float64) [][]float64 {
	edges := floats.Span(make([]float64, numFilters+2), hzToMel(low), hzToMel(high))
	for i, mel := range edges {
		edges[i] = melToHz(mel)
	}

	bins := fftSize/2 + 1
	binHz := float64(sampleRate) / float64(fftSize)

	bank := make([][]float64, numFilters)
	for f := range bank {
		left, center, right := edges[f], edges[f+1], edges[f+2]
		filter := make([]float64, bins)
		for k := range filter {
			hz := float64(k) * binHz
			rising := (hz - left) / (center - left)
			falling := (right - hz) / (right - center)
			filter[k] = math.Max(0, math.Min(rising, falling))
		}
		bank[f] = filter
	}
	return bank
}

// ComputeFrames processes multiple frames of magnitude spectra
func (m *MFCC) ComputeFrames(spectrogram [][]float64) ([][]float64, error) {
	frames := make([][]float64, len(spectrogram))
	for t, spectrum := range spectrogram {
		coeffs, err := m.Compute(spectrum)
		if err != nil {
			return nil, fmt.Errorf("failed to compute MFCC for frame %d: %w", t, err)
		}
		frames[t] = coeffs
	}
	return frames, nil
}

// Params returns the effective parameters
func (m *MFCC) Params() MFCCParams {
	return m.params
}
