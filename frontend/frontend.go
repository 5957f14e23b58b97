// Package frontend turns a waveform into the spectral views the rest of the
// pipeline consumes: a constant-Q magnitude grid, a short-time magnitude
// spectrum and a spectral flatness sequence. It holds no state between calls.
package frontend

import (
	"fmt"

	"github.com/RyanBlaney/sonido-scribe/algorithms/common"
	"github.com/RyanBlaney/sonido-scribe/algorithms/spectral"
	"github.com/RyanBlaney/sonido-scribe/algorithms/windowing"
	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/RyanBlaney/sonido-scribe/transcode"
)

// C1, MIDI 24
const defaultMinFreq = 32.703195662574829

// Config holds analysis parameters
type Config struct {
	SampleRate    int     `json:"sample_rate" yaml:"sample_rate"`
	WindowSize    int     `json:"window_size" yaml:"window_size"`
	HopSize       int     `json:"hop_size" yaml:"hop_size"`
	MinFreq       float64 `json:"min_freq" yaml:"min_freq"`
	NumBins       int     `json:"num_bins" yaml:"num_bins"`
	BinsPerOctave int     `json:"bins_per_octave" yaml:"bins_per_octave"`
	PitchOffset   int     `json:"pitch_offset" yaml:"pitch_offset"` // MIDI pitch of bin 0
}

// DefaultConfig returns the analysis layout: 84 semitones from C1 at 22050 Hz
func DefaultConfig() Config {
	return Config{
		SampleRate:    22050,
		WindowSize:    2048,
		HopSize:       512,
		MinFreq:       defaultMinFreq,
		NumBins:       84,
		BinsPerOctave: 12,
		PitchOffset:   24,
	}
}

// Features are the spectral views of one analysis signal
type Features struct {
	// CQT is Time x Bin constant-Q magnitude
	CQT            [][]float64          `json:"-"`
	CQTFrequencies []float64            `json:"cqt_frequencies"`
	Spectrum       *spectral.STFTResult `json:"-"`
	Flatness       []float64            `json:"flatness"`
	MeanFlatness   float64              `json:"mean_flatness"`
	Frames         int                  `json:"frames"`
	SampleRate     int                  `json:"sample_rate"`
	HopSize        int                  `json:"hop_size"`
	HopDuration    float64              `json:"hop_duration"` // seconds per frame
	SignalLength   int                  `json:"signal_length"`
}

// Frontend computes spectral features
type Frontend struct {
	config     Config
	cqt        *spectral.CQT
	stft       *spectral.STFT
	window     *windowing.Hann
	flatness   *spectral.SpectralFlatness
	resampler  *common.Interpolator
	normalizer *common.Normalizer
	logger     logging.Logger
}

// New validates cfg and precomputes the constant-Q kernels
func New(cfg Config) (*Frontend, error) {
	if cfg.WindowSize <= 0 || cfg.HopSize <= 0 || cfg.HopSize > cfg.WindowSize {
		return nil, fmt.Errorf("invalid frame layout: window=%d hop=%d", cfg.WindowSize, cfg.HopSize)
	}

	cqt, err := spectral.NewCQT(cfg.SampleRate, cfg.HopSize, cfg.MinFreq, cfg.NumBins, cfg.BinsPerOctave)
	if err != nil {
		return nil, fmt.Errorf("failed to build constant-Q transform: %w", err)
	}

	return &Frontend{
		config:     cfg,
		cqt:        cqt,
		stft:       spectral.NewSTFT(),
		window:     windowing.NewHann(cfg.WindowSize, false),
		flatness:   spectral.NewSpectralFlatness(),
		resampler:  common.NewInterpolator(common.Lanczos),
		normalizer: common.NewNormalizer(common.Peak),
		logger: logging.WithFields(logging.Fields{
			"component": "spectral_frontend",
		}),
	}, nil
}

// Config returns the analysis parameters
func (f *Frontend) Config() Config {
	return f.config
}

// HopDuration is the time between frames in seconds
func (f *Frontend) HopDuration() float64 {
	return float64(f.config.HopSize) / float64(f.config.SampleRate)
}

// Resample mixes the waveform to mono at the analysis rate
func (f *Frontend) Resample(w *transcode.AudioData) ([]float64, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("frontend: %w", err)
	}
	return f.resampler.ResampleSignal(w.Mono(), w.SampleRate, f.config.SampleRate), nil
}

// Prepare returns the mono, resampled, peak-normalized analysis signal
func (f *Frontend) Prepare(w *transcode.AudioData) ([]float64, error) {
	signal, err := f.Resample(w)
	if err != nil {
		return nil, err
	}
	if len(signal) == 0 {
		return nil, fmt.Errorf("frontend: %w", diagnostics.NewInvalidAudio(w.Source, "waveform shorter than one sample at %d Hz", f.config.SampleRate))
	}
	return f.normalizer.Normalize(signal), nil
}

// Analyze prepares the waveform and computes every feature
func (f *Frontend) Analyze(w *transcode.AudioData) (*Features, error) {
	signal, err := f.Prepare(w)
	if err != nil {
		return nil, err
	}
	return f.AnalyzeSignal(signal)
}

// AnalyzeSignal computes features of a signal already at the analysis rate
func (f *Frontend) AnalyzeSignal(signal []float64) (*Features, error) {
	logger := f.logger.WithFields(logging.Fields{
		"function": "AnalyzeSignal",
		"samples":  len(signal),
	})

	if len(signal) == 0 {
		return nil, fmt.Errorf("frontend: %w", diagnostics.NewInvalidAudio("", "empty analysis signal"))
	}

	spectrum, err := f.Spectrogram(signal)
	if err != nil {
		return nil, err
	}

	cqt, err := f.cqt.Compute(signal)
	if err != nil {
		return nil, fmt.Errorf("constant-Q transform failed: %w", err)
	}

	flatness := f.flatness.ComputeFrames(spectrum.Magnitude)

	features := &Features{
		CQT:            cqt.Magnitude,
		CQTFrequencies: cqt.Frequencies,
		Spectrum:       spectrum,
		Flatness:       flatness,
		MeanFlatness:   f.flatness.Mean(flatness),
		Frames:         cqt.TimeFrames,
		SampleRate:     f.config.SampleRate,
		HopSize:        f.config.HopSize,
		HopDuration:    f.HopDuration(),
		SignalLength:   len(signal),
	}

	logger.Debug("Spectral features computed", logging.Fields{
		"frames":        features.Frames,
		"mean_flatness": features.MeanFlatness,
	})

	return features, nil
}

// Spectrogram is the centered periodic-Hann STFT of signal
func (f *Frontend) Spectrogram(signal []float64) (*spectral.STFTResult, error) {
	res, err := f.stft.ComputeCentered(signal, f.config.WindowSize, f.config.HopSize, f.config.SampleRate, f.window)
	if err != nil {
		return nil, fmt.Errorf("stft failed: %w", err)
	}
	return res, nil
}

// InverseSpectrogram resynthesizes a spectrogram produced by Spectrogram
func (f *Frontend) InverseSpectrogram(spectrum [][]complex128, length int) ([]float64, error) {
	signal, err := f.stft.Inverse(spectrum, f.config.WindowSize, f.config.HopSize, f.window, true, length)
	if err != nil {
		return nil, fmt.Errorf("inverse stft failed: %w", err)
	}
	return signal, nil
}

// BinPitch maps a constant-Q bin to its MIDI pitch
func (f *Frontend) BinPitch(bin int) int {
	return bin + f.config.PitchOffset
}
