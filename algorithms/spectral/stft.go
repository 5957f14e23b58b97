package spectral

import (
	"fmt"
	"math/cmplx"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-scribe/logging"
)

// STFT provides Short-Time Fourier Transform functionality
type STFT struct {
	fft    *FFT
	logger logging.Logger
}

// STFTResult holds the result of STFT analysis
type STFTResult struct {
	Magnitude      [][]float64    `json:"magnitude"`       // Time x Frequency magnitude matrix
	Phase          [][]float64    `json:"phase"`           // Time x Frequency phase matrix
	Complex        [][]complex128 `json:"-"`               // Raw complex spectrogram (not serialized)
	TimeFrames     int            `json:"time_frames"`     // Number of time frames
	FreqBins       int            `json:"freq_bins"`       // Number of frequency bins
	SampleRate     int            `json:"sample_rate"`     // Sample rate
	WindowSize     int            `json:"window_size"`     // FFT window size
	HopSize        int            `json:"hop_size"`        // Hop size between frames
	FreqResolution float64        `json:"freq_resolution"` // Frequency resolution (Hz/bin)
	TimeResolution float64        `json:"time_resolution"` // Time resolution (seconds/frame)
	Centered       bool           `json:"centered"`        // Frames centered on t*hop (zero padded by window/2)
	SignalLength   int            `json:"signal_length"`   // Length of the analysed signal before padding
}

// Window interface for windowing functions
type Window interface {
	ApplyInPlace(signal []float64) error
	Coefficients() []float64
}

// NewSTFT creates a new STFT calculator
func NewSTFT() *STFT {
	return &STFT{
		fft: NewFFT(),
		logger: logging.WithFields(logging.Fields{
			"component": "stft",
		}),
	}
}

// BinFrequency returns the center frequency in Hz of bin k
func (r *STFTResult) BinFrequency(k int) float64 {
	return float64(k) * float64(r.SampleRate) / float64(r.WindowSize)
}

// ComputeCentered zero-pads windowSize/2 samples on both sides so frame t is
// centered on sample t*hopSize, giving 1 + len(signal)/hopSize frames.
func (s *STFT) ComputeCentered(signal []float64, windowSize int, hopSize int, sampleRate int, window Window) (*STFTResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}

	pad := windowSize / 2
	padded := make([]float64, len(signal)+2*pad)
	copy(padded[pad:], signal)

	result, err := s.ComputeWithWindow(padded, windowSize, hopSize, sampleRate, window)
	if err != nil {
		return nil, err
	}
	result.Centered = true
	result.SignalLength = len(signal)
	return result, nil
}

// ComputeWithWindow computes STFT with parallel processing and custom window type
func (s *STFT) ComputeWithWindow(signal []float64, windowSize int, hopSize int, sampleRate int, window Window) (*STFTResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}

	if hopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive")
	}

	numFrames := (len(signal)-windowSize)/hopSize + 1
	if len(signal) < windowSize || numFrames <= 0 {
		return nil, fmt.Errorf("signal too short for given window size and hop size")
	}

	// Positive frequencies only
	freqBins := windowSize/2 + 1

	magnitude := make([][]float64, numFrames)
	phase := make([][]float64, numFrames)
	complexSpectrum := make([][]complex128, numFrames)

	for i := range numFrames {
		magnitude[i] = make([]float64, freqBins)
		phase[i] = make([]float64, freqBins)
		complexSpectrum[i] = make([]complex128, freqBins)
	}

	numWorkers := getOptimalWorkerCount(numFrames)

	type frameJob struct {
		frameIdx int
		startIdx int
		endIdx   int
	}

	jobs := make(chan frameJob, numFrames)
	errs := make(chan error, numWorkers)

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Reuse frame buffer for this worker
			frameBuffer := make([]float64, windowSize)

			for job := range jobs {
				copy(frameBuffer, signal[job.startIdx:job.endIdx])

				if window != nil {
					if err := window.ApplyInPlace(frameBuffer); err != nil {
						errs <- fmt.Errorf("frame %d: %w", job.frameIdx, err)
						return
					}
				}

				fftResult := s.fft.Compute(frameBuffer)

				// Each worker owns whole rows, so writes never overlap
				for i := range freqBins {
					complexSpectrum[job.frameIdx][i] = fftResult[i]
					magnitude[job.frameIdx][i] = cmplx.Abs(fftResult[i])
					phase[job.frameIdx][i] = cmplx.Phase(fftResult[i])
				}
			}
		}()
	}

	for frameIdx := range numFrames {
		startIdx := frameIdx * hopSize
		jobs <- frameJob{
			frameIdx: frameIdx,
			startIdx: startIdx,
			endIdx:   startIdx + windowSize,
		}
	}
	close(jobs)

	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		s.logger.Error(err, "Windowing failed", logging.Fields{
			"function":    "ComputeWithWindow",
			"window_size": windowSize,
		})
		return nil, fmt.Errorf("failed to window frame: %w", err)
	}

	return &STFTResult{
		Magnitude:      magnitude,
		Phase:          phase,
		Complex:        complexSpectrum,
		TimeFrames:     numFrames,
		FreqBins:       freqBins,
		SampleRate:     sampleRate,
		WindowSize:     windowSize,
		HopSize:        hopSize,
		FreqResolution: float64(sampleRate) / float64(windowSize),
		TimeResolution: float64(hopSize) / float64(sampleRate),
		SignalLength:   len(signal),
	}, nil
}

// Inverse reconstructs a time signal from a complex spectrogram by weighted
// overlap-add, dividing by the summed squared synthesis window. For centered
// spectrograms the padding is removed. The result is cut or zero-padded to
// length samples (length <= 0 keeps the natural length).
func (s *STFT) Inverse(spectrum [][]complex128, windowSize int, hopSize int, window Window, centered bool, length int) ([]float64, error) {
	if len(spectrum) == 0 {
		return nil, fmt.Errorf("empty spectrogram")
	}
	if windowSize <= 0 || hopSize <= 0 {
		return nil, fmt.Errorf("window and hop size must be positive")
	}
	if len(spectrum[0]) != windowSize/2+1 {
		return nil, fmt.Errorf("spectrogram has %d bins, window %d needs %d", len(spectrum[0]), windowSize, windowSize/2+1)
	}

	win := make([]float64, windowSize)
	if window != nil {
		win = window.Coefficients()
		if len(win) != windowSize {
			return nil, fmt.Errorf("window length (%d) doesn't match window size (%d)", len(win), windowSize)
		}
	} else {
		for i := range win {
			win[i] = 1
		}
	}

	numFrames := len(spectrum)
	frames := make([][]float64, numFrames)

	numWorkers := getOptimalWorkerCount(numFrames)
	jobs := make(chan int, numFrames)
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				frame := s.fft.ComputeInverseHalf(spectrum[t], windowSize)
				for n := range frame {
					frame[n] *= win[n]
				}
				frames[t] = frame
			}
		}()
	}
	for t := range numFrames {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	// Summation runs in frame order so the result does not depend on scheduling
	total := windowSize + hopSize*(numFrames-1)
	output := make([]float64, total)
	windowSum := make([]float64, total)
	for t, frame := range frames {
		offset := t * hopSize
		for n, v := range frame {
			output[offset+n] += v
			windowSum[offset+n] += win[n] * win[n]
		}
	}

	for i := range output {
		if windowSum[i] > 1e-10 {
			output[i] /= windowSum[i]
		}
	}

	if centered {
		pad := windowSize / 2
		if pad < len(output) {
			output = output[pad:]
		} else {
			output = output[:0]
		}
	}

	if length > 0 {
		if len(output) >= length {
			output = output[:length]
		} else {
			output = append(output, make([]float64, length-len(output))...)
		}
	} else if centered {
		output = output[:max(0, len(output)-windowSize/2)]
	}

	return output, nil
}

// getOptimalWorkerCount determines the number of workers based on workload
func getOptimalWorkerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	// For small workloads, don't over-parallelize
	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}

	if numFrames < 1000 {
		return min(numCPU, 8)
	}

	return numCPU
}
