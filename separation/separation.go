// Package separation splits a waveform into four named stems with
// harmonic/percussive median filtering followed by frequency band masks.
package separation

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/RyanBlaney/sonido-scribe/algorithms/common"
	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/frontend"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/RyanBlaney/sonido-scribe/transcode"
)

// StemName is one of the four separated sources
type StemName string

const (
	Vocals StemName = "vocals"
	Bass   StemName = "bass"
	Drums  StemName = "drums"
	Other  StemName = "other"
)

// StemNames lists the stems in output order
var StemNames = []StemName{Vocals, Bass, Drums, Other}

const silentStemsWarning = "Some stems were silent and not created."

// Config holds separation parameters
type Config struct {
	KernelSize   int     `json:"kernel_size" yaml:"kernel_size"`
	MaskPower    float64 `json:"mask_power" yaml:"mask_power"`
	BassCutoff   float64 `json:"bass_cutoff" yaml:"bass_cutoff"`     // Hz, bass below
	VocalsCutoff float64 `json:"vocals_cutoff" yaml:"vocals_cutoff"` // Hz, other at or above
	SilenceFloor float64 `json:"silence_floor" yaml:"silence_floor"`
	BitDepth     int     `json:"bit_depth" yaml:"bit_depth"`
}

// DefaultConfig returns the default separation parameters
func DefaultConfig() Config {
	return Config{
		KernelSize:   31,
		MaskPower:    2.0,
		BassCutoff:   200.0,
		VocalsCutoff: 4000.0,
		SilenceFloor: 1e-6,
		BitDepth:     16,
	}
}

// Stem is one separated source
type Stem struct {
	Name StemName `json:"name"`
	// Samples are peak-normalized unless the stem is silent
	Samples []float64 `json:"-"`
	// Raw is the stem before normalization; stems sum back toward the input
	Raw    []float64 `json:"-"`
	Peak   float64   `json:"peak"`
	Silent bool      `json:"silent"`
}

// Diagnostics describes one separation run
type Diagnostics struct {
	Status       diagnostics.Status   `json:"status"`
	StemsCreated []string             `json:"stems_created"`
	StemsSilent  []string             `json:"stems_silent"`
	Warnings     diagnostics.Warnings `json:"warnings"`
	SampleRate   int                  `json:"sample_rate"`
	Samples      int                  `json:"samples"`
	KernelSize   int                  `json:"kernel_size"`
}

// Result holds the stems of one waveform
type Result struct {
	Stems       []*Stem     `json:"stems"`
	Harmonic    []float64   `json:"-"`
	Percussive  []float64   `json:"-"`
	SampleRate  int         `json:"sample_rate"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Stem returns the named stem or nil
func (r *Result) Stem(name StemName) *Stem {
	for _, s := range r.Stems {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// RawStems returns the unnormalized stems in output order
func (r *Result) RawStems() [][]float64 {
	out := make([][]float64, len(r.Stems))
	for i, s := range r.Stems {
		out[i] = s.Raw
	}
	return out
}

// Separator performs HPSS and band splitting
type Separator struct {
	frontend *frontend.Frontend
	config   Config
	logger   logging.Logger
}

// New creates a separator that shares the frontend's STFT layout
func New(fe *frontend.Frontend, cfg Config) *Separator {
	defaults := DefaultConfig()
	if cfg.KernelSize <= 0 {
		cfg.KernelSize = defaults.KernelSize
	}
	if cfg.MaskPower <= 0 {
		cfg.MaskPower = defaults.MaskPower
	}
	if cfg.BassCutoff <= 0 {
		cfg.BassCutoff = defaults.BassCutoff
	}
	if cfg.VocalsCutoff <= cfg.BassCutoff {
		cfg.VocalsCutoff = math.Max(defaults.VocalsCutoff, cfg.BassCutoff)
	}
	if cfg.SilenceFloor <= 0 {
		cfg.SilenceFloor = defaults.SilenceFloor
	}
	if cfg.BitDepth == 0 {
		cfg.BitDepth = defaults.BitDepth
	}

	return &Separator{
		frontend: fe,
		config:   cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "source_separator",
		}),
	}
}

// Separate mixes w to mono at the analysis rate and splits it into stems
func (s *Separator) Separate(w *transcode.AudioData) (*Result, error) {
	signal, err := s.frontend.Resample(w)
	if err != nil {
		return nil, err
	}
	return s.SeparateSignal(signal)
}

// SeparateSignal splits a mono signal already at the analysis rate
func (s *Separator) SeparateSignal(signal []float64) (*Result, error) {
	logger := s.logger.WithFields(logging.Fields{
		"function": "SeparateSignal",
		"samples":  len(signal),
	})

	if len(signal) == 0 {
		return nil, fmt.Errorf("separation: %w", diagnostics.NewInvalidAudio("", "empty signal"))
	}

	harmonic, percussive, err := s.HPSS(signal)
	if err != nil {
		return nil, err
	}

	bands, err := s.splitBands(harmonic)
	if err != nil {
		return nil, err
	}
	bands[Drums] = percussive

	sampleRate := s.frontend.Config().SampleRate
	result := &Result{
		Harmonic:   harmonic,
		Percussive: percussive,
		SampleRate: sampleRate,
		Diagnostics: Diagnostics{
			Status:       diagnostics.StatusSuccess,
			StemsCreated: []string{},
			StemsSilent:  []string{},
			SampleRate:   sampleRate,
			Samples:      len(signal),
			KernelSize:   s.config.KernelSize,
		},
	}

	for _, name := range StemNames {
		raw := bands[name]
		stem := &Stem{
			Name: name,
			Raw:  raw,
			Peak: common.PeakAbs(raw),
		}
		if stem.Peak < s.config.SilenceFloor {
			stem.Silent = true
			stem.Samples = make([]float64, len(raw))
			result.Diagnostics.StemsSilent = append(result.Diagnostics.StemsSilent, string(name))
		} else {
			stem.Samples = common.PeakNormalize(raw)
			result.Diagnostics.StemsCreated = append(result.Diagnostics.StemsCreated, string(name))
		}
		result.Stems = append(result.Stems, stem)
	}

	if len(result.Diagnostics.StemsCreated) < len(StemNames) {
		result.Diagnostics.Warnings.Add(silentStemsWarning)
	}

	logger.Debug("Separation completed", logging.Fields{
		"stems_created": result.Diagnostics.StemsCreated,
		"stems_silent":  result.Diagnostics.StemsSilent,
	})

	return result, nil
}

// HPSS splits signal into harmonic and percussive parts with median-filtered
// soft masks. The two parts sum approximately to the input.
func (s *Separator) HPSS(signal []float64) ([]float64, []float64, error) {
	spec, err := s.frontend.Spectrogram(signal)
	if err != nil {
		return nil, nil, fmt.Errorf("hpss: %w", err)
	}

	// Harmonic energy is smooth along time, percussive along frequency
	harmonicEnv := common.Transpose(common.MedianFilterRows(common.Transpose(spec.Magnitude), s.config.KernelSize))
	percussiveEnv := common.MedianFilterRows(spec.Magnitude, s.config.KernelSize)

	harmonicSpec := make([][]complex128, spec.TimeFrames)
	percussiveSpec := make([][]complex128, spec.TimeFrames)
	for t := range spec.Complex {
		harmonicSpec[t] = make([]complex128, spec.FreqBins)
		percussiveSpec[t] = make([]complex128, spec.FreqBins)
		for k, x := range spec.Complex[t] {
			mh, mp := softMasks(harmonicEnv[t][k], percussiveEnv[t][k], s.config.MaskPower)
			harmonicSpec[t][k] = x * complex(mh, 0)
			percussiveSpec[t][k] = x * complex(mp, 0)
		}
	}

	harmonic, err := s.frontend.InverseSpectrogram(harmonicSpec, len(signal))
	if err != nil {
		return nil, nil, fmt.Errorf("hpss harmonic: %w", err)
	}
	percussive, err := s.frontend.InverseSpectrogram(percussiveSpec, len(signal))
	if err != nil {
		return nil, nil, fmt.Errorf("hpss percussive: %w", err)
	}

	return harmonic, percussive, nil
}

// softMasks returns Wiener-style masks h^p/(h^p+q^p) and q^p/(h^p+q^p).
// Cells where both envelopes vanish get zero in both masks.
func softMasks(h, q, power float64) (float64, float64) {
	z := math.Max(h, q)
	if z < 1e-30 {
		return 0, 0
	}
	hp := math.Pow(h/z, power)
	qp := math.Pow(q/z, power)
	return hp / (hp + qp), qp / (hp + qp)
}

// splitBands applies the bass, vocals and other masks to the STFT rows of the
// harmonic signal
func (s *Separator) splitBands(harmonic []float64) (map[StemName][]float64, error) {
	spec, err := s.frontend.Spectrogram(harmonic)
	if err != nil {
		return nil, fmt.Errorf("band split: %w", err)
	}

	bandOf := func(freq float64) StemName {
		switch {
		case freq < s.config.BassCutoff:
			return Bass
		case freq < s.config.VocalsCutoff:
			return Vocals
		default:
			return Other
		}
	}

	bands := make(map[StemName][]float64, 3)
	for _, name := range []StemName{Bass, Vocals, Other} {
		masked := make([][]complex128, spec.TimeFrames)
		for t := range spec.Complex {
			masked[t] = make([]complex128, spec.FreqBins)
			for k, x := range spec.Complex[t] {
				if bandOf(spec.BinFrequency(k)) == name {
					masked[t][k] = x
				}
			}
		}

		out, err := s.frontend.InverseSpectrogram(masked, len(harmonic))
		if err != nil {
			return nil, fmt.Errorf("band split %s: %w", name, err)
		}
		bands[name] = out
	}

	return bands, nil
}

// Persist writes stems/<name>.wav for every created stem and returns the paths
func (s *Separator) Persist(result *Result, dir string) ([]string, error) {
	stemDir := filepath.Join(dir, "stems")
	var paths []string

	for _, stem := range result.Stems {
		if stem.Silent {
			continue
		}
		path := filepath.Join(stemDir, string(stem.Name)+".wav")
		data := transcode.NewAudioData(stem.Samples, result.SampleRate, 1, s.config.BitDepth)
		if err := transcode.WriteWAV(path, data, s.config.BitDepth); err != nil {
			return paths, fmt.Errorf("failed to persist stem %s: %w", stem.Name, err)
		}
		paths = append(paths, path)
	}

	s.logger.Debug("Stems persisted", logging.Fields{
		"function": "Persist",
		"dir":      stemDir,
		"count":    len(paths),
	})

	return paths, nil
}
