package spectral

import (
	"fmt"
	"math"
	"sync"

	"github.com/RyanBlaney/sonido-scribe/algorithms/windowing"
	"github.com/RyanBlaney/sonido-scribe/logging"
)

// CQT computes a constant-Q magnitude spectrogram.
//
// Bin k sits at f_k = minFreq * 2^(k/binsPerOctave). Every bin uses its own
// Hann-windowed complex exponential of length ceil(Q*sr/f_k) with
// Q = 1/(2^(1/binsPerOctave)-1), so the bandwidth of each bin equals the
// spacing to its neighbour. Kernels are normalized by the window sum, which
// makes a sinusoid of amplitude A read A/2 in its own bin at every pitch.
type CQT struct {
	sampleRate    int
	hopSize       int
	minFreq       float64
	numBins       int
	binsPerOctave int
	qFactor       float64

	freqs   []float64
	kernRe  [][]float64
	kernIm  [][]float64
	lengths []int

	logger logging.Logger
}

// CQTResult holds a time-major constant-Q magnitude grid
type CQTResult struct {
	Magnitude   [][]float64 `json:"magnitude"` // Time x Bin
	Frequencies []float64   `json:"frequencies"`
	TimeFrames  int         `json:"time_frames"`
	Bins        int         `json:"bins"`
	SampleRate  int         `json:"sample_rate"`
	HopSize     int         `json:"hop_size"`
}

// NewCQT validates the bin layout and precomputes the kernels
func NewCQT(sampleRate, hopSize int, minFreq float64, numBins, binsPerOctave int) (*CQT, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive: %d", sampleRate)
	}
	if hopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive: %d", hopSize)
	}
	if minFreq <= 0 || numBins <= 0 || binsPerOctave <= 0 {
		return nil, fmt.Errorf("invalid constant-Q layout: fmin=%.2f bins=%d bins/octave=%d", minFreq, numBins, binsPerOctave)
	}

	c := &CQT{
		sampleRate:    sampleRate,
		hopSize:       hopSize,
		minFreq:       minFreq,
		numBins:       numBins,
		binsPerOctave: binsPerOctave,
		qFactor:       1.0 / (math.Pow(2.0, 1.0/float64(binsPerOctave)) - 1.0),
		logger: logging.WithFields(logging.Fields{
			"component": "cqt",
		}),
	}

	nyquist := float64(sampleRate) / 2.0
	topFreq := minFreq * math.Pow(2.0, float64(numBins-1)/float64(binsPerOctave))
	if topFreq*(1.0+0.5/c.qFactor) >= nyquist {
		return nil, fmt.Errorf("highest constant-Q bin (%.1f Hz) exceeds Nyquist (%.1f Hz)", topFreq, nyquist)
	}

	c.computeKernels()
	return c, nil
}

func (c *CQT) computeKernels() {
	c.freqs = make([]float64, c.numBins)
	c.kernRe = make([][]float64, c.numBins)
	c.kernIm = make([][]float64, c.numBins)
	c.lengths = make([]int, c.numBins)

	sr := float64(c.sampleRate)
	for k := range c.numBins {
		freq := c.minFreq * math.Pow(2.0, float64(k)/float64(c.binsPerOctave))
		length := int(math.Ceil(c.qFactor * sr / freq))

		win := windowing.NewHann(length, true)
		coeffs := win.Coefficients()
		norm := win.Sum()

		re := make([]float64, length)
		im := make([]float64, length)
		center := float64(length) / 2.0
		for n := range length {
			// conjugated exponential, so correlation reads off the bin phasor
			phase := -2.0 * math.Pi * freq * (float64(n) - center) / sr
			re[n] = coeffs[n] * math.Cos(phase) / norm
			im[n] = coeffs[n] * math.Sin(phase) / norm
		}

		c.freqs[k] = freq
		c.kernRe[k] = re
		c.kernIm[k] = im
		c.lengths[k] = length
	}
}

// Frequencies returns the center frequency of every bin
func (c *CQT) Frequencies() []float64 {
	out := make([]float64, len(c.freqs))
	copy(out, c.freqs)
	return out
}

// Compute returns 1 + len(signal)/hop frames, frame t centered on sample t*hop.
// Samples outside the signal count as zero.
func (c *CQT) Compute(signal []float64) (*CQTResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	numFrames := 1 + len(signal)/c.hopSize
	magnitude := make([][]float64, numFrames)

	numWorkers := getOptimalWorkerCount(numFrames)
	jobs := make(chan int, numFrames)
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				magnitude[t] = c.computeFrame(signal, t*c.hopSize)
			}
		}()
	}

	for t := range numFrames {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	c.logger.Debug("Constant-Q transform computed", logging.Fields{
		"function": "Compute",
		"frames":   numFrames,
		"bins":     c.numBins,
	})

	return &CQTResult{
		Magnitude:   magnitude,
		Frequencies: c.Frequencies(),
		TimeFrames:  numFrames,
		Bins:        c.numBins,
		SampleRate:  c.sampleRate,
		HopSize:     c.hopSize,
	}, nil
}

func (c *CQT) computeFrame(signal []float64, centerSample int) []float64 {
	out := make([]float64, c.numBins)
	for k := range c.numBins {
		length := c.lengths[k]
		start := centerSample - length/2

		lo := max(0, -start)
		hi := min(length, len(signal)-start)

		re, im := 0.0, 0.0
		kr, ki := c.kernRe[k], c.kernIm[k]
		for n := lo; n < hi; n++ {
			x := signal[start+n]
			re += x * kr[n]
			im += x * ki[n]
		}
		out[k] = math.Hypot(re, im)
	}
	return out
}
