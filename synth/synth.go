// Package synth renders note sequences to audio through a pluggable renderer
// and applies the post-render mixing chain. Renderer failures never escape as
// errors; they are recorded in the render diagnostics.
package synth

import (
	"context"
	"errors"
	"os"
	"slices"

	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/RyanBlaney/sonido-scribe/score"
	"github.com/RyanBlaney/sonido-scribe/transcode"
)

const noNotesReason = "no notes to render"

// DefaultSoundfonts are searched in order for a timbre bank
var DefaultSoundfonts = []string{
	"/usr/share/sounds/sf2/FluidR3_GM.sf2",
	"/usr/share/sounds/sf3/default-gm.sf3",
}

// Config holds synthesis settings
type Config struct {
	Soundfonts []string `json:"soundfonts" yaml:"soundfonts"`
	// Polyphony is the voice limit used to report overflow
	Polyphony int `json:"polyphony" yaml:"polyphony"`
}

// DefaultConfig returns the default synthesis settings
func DefaultConfig() Config {
	return Config{
		Soundfonts: slices.Clone(DefaultSoundfonts),
		Polyphony:  256,
	}
}

// RenderDiagnostics describes one render
type RenderDiagnostics struct {
	Status            diagnostics.Status   `json:"status"`
	Renderer          string               `json:"renderer"`
	Soundfont         string               `json:"soundfont,omitempty"`
	Error             string               `json:"error,omitempty"`
	RenderedVoices    int                  `json:"rendered_voices"`
	PolyphonyOverflow int                  `json:"polyphony_overflow"`
	SampleRate        int                  `json:"sample_rate,omitempty"`
	Channels          int                  `json:"channels,omitempty"`
	BitDepth          int                  `json:"bit_depth,omitempty"`
	Duration          float64              `json:"duration"`
	Warnings          diagnostics.Warnings `json:"warnings"`
}

// Result is the processed render, absent on failure
type Result struct {
	Audio       *transcode.AudioData `json:"-"`
	Diagnostics RenderDiagnostics    `json:"diagnostics"`
	Err         error                `json:"-"`
}

// Synthesizer drives a renderer and the post-processing chain
type Synthesizer struct {
	renderer Renderer
	post     *PostProcessor
	config   Config
	logger   logging.Logger
}

// New creates a synthesizer
func New(renderer Renderer, cfg Config) *Synthesizer {
	if cfg.Polyphony <= 0 {
		cfg.Polyphony = DefaultConfig().Polyphony
	}
	return &Synthesizer{
		renderer: renderer,
		post:     NewPostProcessor(),
		config:   cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "synthesizer",
			"renderer":  renderer.Name(),
		}),
	}
}

// ResolveSoundfont returns the first candidate that exists as a file
func ResolveSoundfont(candidates []string) (string, error) {
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", ErrNoSoundfont
}

// Synthesize renders seq and post-processes the result, requantizing to
// bitDepth. It never returns an error; see Result.Err.
func (s *Synthesizer) Synthesize(ctx context.Context, seq *score.Sequence, bitDepth int) *Result {
	logger := s.logger.WithFields(logging.Fields{
		"function": "Synthesize",
		"notes":    seq.Len(),
	})

	result := &Result{
		Diagnostics: RenderDiagnostics{
			Status:            diagnostics.StatusFailed,
			Renderer:          s.renderer.Name(),
			PolyphonyOverflow: max(0, maxConcurrent(seq)-s.config.Polyphony),
			Warnings:          diagnostics.Warnings{},
		},
	}
	diag := &result.Diagnostics

	if seq.Len() == 0 {
		result.Err = errors.New(noNotesReason)
		diag.Error = noNotesReason
		logger.Info("Skipping render of empty sequence")
		return result
	}

	bank, err := ResolveSoundfont(s.config.Soundfonts)
	if err == nil {
		diag.Soundfont = bank
	}

	audio, err := s.renderer.Render(ctx, seq, bank)
	if err == nil {
		err = audio.Validate()
	}
	if err != nil {
		var failure *diagnostics.ExternalToolFailure
		if !errors.As(err, &failure) {
			err = &diagnostics.ExternalToolFailure{Tool: s.renderer.Name(), Err: err}
		}
		result.Err = err
		diag.Error = err.Error()
		logger.Error(err, "Render failed, continuing without audio")
		return result
	}

	processed := s.post.Process(audio, bitDepth)
	if diag.PolyphonyOverflow > 0 {
		diag.Warnings.Add("Polyphony exceeds %d voices; some notes may be dropped", s.config.Polyphony)
	}

	result.Audio = processed
	diag.Status = diagnostics.StatusSuccess
	diag.RenderedVoices = seq.Len()
	diag.SampleRate = processed.SampleRate
	diag.Channels = processed.Channels
	diag.BitDepth = processed.BitDepth
	diag.Duration = processed.Duration.Seconds()

	logger.Debug("Render completed", logging.Fields{
		"duration": diag.Duration,
		"channels": diag.Channels,
	})

	return result
}

// maxConcurrent is the largest number of notes sounding at once
func maxConcurrent(seq *score.Sequence) int {
	type edge struct {
		t     float64
		delta int
	}
	edges := make([]edge, 0, 2*seq.Len())
	for _, n := range seq.Notes {
		edges = append(edges, edge{n.Start, 1}, edge{n.End, -1})
	}
	// ends before starts at equal times
	slices.SortFunc(edges, func(a, b edge) int {
		if a.t != b.t {
			if a.t < b.t {
				return -1
			}
			return 1
		}
		return a.delta - b.delta
	})

	current, peak := 0, 0
	for _, e := range edges {
		current += e.delta
		peak = max(peak, current)
	}
	return peak
}
