// Package transcription detects notes in a constant-Q grid with a per-pitch
// state machine and decides when the input is too unreliable to transcribe.
package transcription

import (
	"fmt"

	"github.com/RyanBlaney/sonido-scribe/algorithms/spectral"
	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/frontend"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/RyanBlaney/sonido-scribe/score"
	"github.com/RyanBlaney/sonido-scribe/transcode"
)

const (
	noiseWarning    = "Input sounds like noise; results may be unreliable"
	lowSignalNotice = "Low signal-to-noise ratio"
	noisyReason     = "Input too noisy"

	// dB per unit of threshold
	cutoffScale = -40.0
)

// Config holds detection parameters
type Config struct {
	Threshold      float64 `json:"threshold" yaml:"threshold"`
	MinDuration    float64 `json:"min_duration" yaml:"min_duration"` // seconds, notes must be longer
	Velocity       int     `json:"velocity" yaml:"velocity"`
	MaxPolyphony   int     `json:"max_polyphony" yaml:"max_polyphony"`
	NoiseWarn      float64 `json:"noise_warn" yaml:"noise_warn"`
	NoiseAbstain   float64 `json:"noise_abstain" yaml:"noise_abstain"`
	LowSignalDB    float64 `json:"low_signal_db" yaml:"low_signal_db"`
	AmplitudeFloor float64 `json:"amplitude_floor" yaml:"amplitude_floor"`
	TopDB          float64 `json:"top_db" yaml:"top_db"`
}

// DefaultConfig returns the default detection parameters
func DefaultConfig() Config {
	return Config{
		Threshold:      0.6,
		MinDuration:    0.05,
		Velocity:       100,
		MaxPolyphony:   20,
		NoiseWarn:      0.1,
		NoiseAbstain:   0.5,
		LowSignalDB:    -60,
		AmplitudeFloor: 1e-5,
		TopDB:          80,
	}
}

// withDefaults fills zero fields. Threshold is left alone since 0 is valid.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.Velocity < 1 || c.Velocity > 127 {
		c.Velocity = d.Velocity
	}
	if c.MaxPolyphony <= 0 {
		c.MaxPolyphony = d.MaxPolyphony
	}
	if c.NoiseWarn <= 0 {
		c.NoiseWarn = d.NoiseWarn
	}
	if c.NoiseAbstain <= 0 {
		c.NoiseAbstain = d.NoiseAbstain
	}
	if c.LowSignalDB == 0 {
		c.LowSignalDB = d.LowSignalDB
	}
	if c.AmplitudeFloor <= 0 {
		c.AmplitudeFloor = d.AmplitudeFloor
	}
	if c.TopDB <= 0 {
		c.TopDB = d.TopDB
	}
	return c
}

// CutoffDB maps a threshold in [0, 1] to the activity cutoff in dB
func CutoffDB(threshold float64) (float64, error) {
	if !(threshold >= 0 && threshold <= 1) {
		return 0, fmt.Errorf("threshold must be in [0, 1], got %v", threshold)
	}
	return threshold * cutoffScale, nil
}

// ActiveGrid marks every cell strictly above cutoff and counts them
func ActiveGrid(db [][]float64, cutoff float64) ([][]bool, int) {
	active := make([][]bool, len(db))
	count := 0
	for t, row := range db {
		active[t] = make([]bool, len(row))
		for b, v := range row {
			if v > cutoff {
				active[t][b] = true
				count++
			}
		}
	}
	return active, count
}

// Diagnostics describes one transcription
type Diagnostics struct {
	Status       diagnostics.Status   `json:"status"`
	Reason       string               `json:"reason,omitempty"`
	Confidence   float64              `json:"confidence"`
	PolyphonyMax int                  `json:"polyphony_max"`
	Warnings     diagnostics.Warnings `json:"warnings"`
	MeanFlatness float64              `json:"mean_flatness"`
	MeanDB       float64              `json:"mean_db"`
	Threshold    float64              `json:"threshold"`
	CutoffDB     float64              `json:"cutoff_db"`
	ActiveCells  int                  `json:"active_cells"`
	Frames       int                  `json:"frames"`
	Notes        int                  `json:"notes"`
}

// Result is the transcribed sequence and its diagnostics
type Result struct {
	Sequence    *score.Sequence                   `json:"sequence"`
	Diagnostics Diagnostics                       `json:"diagnostics"`
	Abstention  *diagnostics.AbstentionCondition `json:"-"`
}

// Abstained reports whether the gate withheld a result
func (r *Result) Abstained() bool {
	return r.Abstention != nil
}

// Transcriber runs the abstention gate and the note tracker
type Transcriber struct {
	frontend *frontend.Frontend
	config   Config
	power    *spectral.PowerSpectrum
	timebase score.Timebase
	logger   logging.Logger
}

// New creates a transcriber on top of a frontend
func New(fe *frontend.Frontend, cfg Config) *Transcriber {
	fc := fe.Config()
	return &Transcriber{
		frontend: fe,
		config:   cfg.withDefaults(),
		power:    spectral.NewPowerSpectrum(),
		timebase: score.TimebaseFor(fc.SampleRate, fc.HopSize),
		logger: logging.WithFields(logging.Fields{
			"component": "note_tracker",
		}),
	}
}

// Timebase is the MIDI timebase of emitted sequences
func (t *Transcriber) Timebase() score.Timebase {
	return t.timebase
}

// Transcribe analyzes w and detects notes
func (t *Transcriber) Transcribe(w *transcode.AudioData) (*Result, error) {
	if _, err := CutoffDB(t.config.Threshold); err != nil {
		return nil, err
	}

	features, err := t.frontend.Analyze(w)
	if err != nil {
		return nil, err
	}
	return t.TranscribeFeatures(features)
}

// TranscribeFeatures runs detection on precomputed features
func (t *Transcriber) TranscribeFeatures(features *frontend.Features) (*Result, error) {
	logger := t.logger.WithFields(logging.Fields{
		"function":  "TranscribeFeatures",
		"threshold": t.config.Threshold,
		"frames":    features.Frames,
	})

	cutoff, err := CutoffDB(t.config.Threshold)
	if err != nil {
		return nil, err
	}

	grid := t.power.AmplitudeToDB(features.CQT, t.config.AmplitudeFloor, t.config.TopDB)

	result := &Result{
		Sequence: score.NewSequence(t.timebase),
		Diagnostics: Diagnostics{
			Status:       diagnostics.StatusSuccess,
			Warnings:     diagnostics.Warnings{},
			MeanFlatness: features.MeanFlatness,
			MeanDB:       grid.MeanDB,
			Threshold:    t.config.Threshold,
			CutoffDB:     cutoff,
			Frames:       features.Frames,
		},
	}
	diag := &result.Diagnostics

	if grid.MeanDB < t.config.LowSignalDB {
		diag.Warnings.Add(lowSignalNotice)
	}

	if features.MeanFlatness > t.config.NoiseWarn {
		diag.Warnings.Add(noiseWarning)
		if features.MeanFlatness > t.config.NoiseAbstain {
			diag.Status = diagnostics.StatusAbstained
			diag.Reason = noisyReason
			result.Abstention = &diagnostics.AbstentionCondition{Stage: "transcription", Reason: noisyReason}

			logger.Warn("Abstaining on noisy input", logging.Fields{
				"mean_flatness": features.MeanFlatness,
			})
			return result, nil
		}
	}

	active, cells := ActiveGrid(grid.Values, cutoff)
	diag.ActiveCells = cells

	numBins := len(features.CQTFrequencies)
	tracker := NewTracker(numBins, t.frontend.Config().PitchOffset, features.HopDuration, t.config)
	for _, frame := range active {
		if err := tracker.Step(frame); err != nil {
			return nil, fmt.Errorf("note tracking failed: %w", err)
		}
	}
	tracker.Flush()

	for _, n := range tracker.Notes() {
		if err := result.Sequence.Add(n); err != nil {
			return nil, fmt.Errorf("tracker emitted invalid note: %w", err)
		}
	}

	diag.Warnings = append(diag.Warnings, tracker.Warnings()...)
	diag.PolyphonyMax = tracker.PolyphonyMax()
	diag.Confidence = 1.0 - features.MeanFlatness
	diag.Notes = result.Sequence.Len()

	logger.Debug("Transcription completed", logging.Fields{
		"notes":         diag.Notes,
		"active_cells":  cells,
		"polyphony_max": diag.PolyphonyMax,
	})

	return result, nil
}
