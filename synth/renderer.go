package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-scribe/algorithms/common"
	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/RyanBlaney/sonido-scribe/score"
	"github.com/RyanBlaney/sonido-scribe/transcode"
)

// ErrNoSoundfont is returned when no timbre bank could be located
var ErrNoSoundfont = errors.New("no soundfont found")

// Renderer turns a note sequence into audio using a timbre bank
type Renderer interface {
	Name() string
	Render(ctx context.Context, seq *score.Sequence, bank string) (*transcode.AudioData, error)
}

// FluidSynth renders through the fluidsynth command line
type FluidSynth struct {
	Path       string
	SampleRate int
	Gain       float64
	Timeout    time.Duration
}

// NewFluidSynth creates a renderer with default settings
func NewFluidSynth(path string) *FluidSynth {
	if path == "" {
		path = "fluidsynth"
	}
	return &FluidSynth{
		Path:       path,
		SampleRate: 44100,
		Gain:       1.0,
		Timeout:    2 * time.Minute,
	}
}

func (f *FluidSynth) Name() string {
	return "fluidsynth"
}

// Render writes the score to a temp directory and runs
// fluidsynth -ni <bank> <score.mid> -F <out.wav> -r <rate> -g <gain>
func (f *FluidSynth) Render(ctx context.Context, seq *score.Sequence, bank string) (*transcode.AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "fluidsynth_renderer",
		"function":  "Render",
		"soundfont": bank,
	})

	binary, err := exec.LookPath(f.Path)
	if err != nil {
		return nil, &diagnostics.ExternalToolFailure{Tool: f.Name(), Err: err}
	}
	if bank == "" {
		return nil, &diagnostics.ExternalToolFailure{Tool: f.Name(), Err: ErrNoSoundfont}
	}
	if _, err := os.Stat(bank); err != nil {
		return nil, &diagnostics.ExternalToolFailure{Tool: f.Name(), Err: fmt.Errorf("soundfont unavailable: %w", err)}
	}

	workDir, err := os.MkdirTemp("", "scribe-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	midPath := filepath.Join(workDir, "score.mid")
	outPath := filepath.Join(workDir, "out.wav")
	if err := seq.WriteFile(midPath); err != nil {
		return nil, fmt.Errorf("failed to write render score: %w", err)
	}

	args := []string{
		"-ni", bank, midPath,
		"-F", outPath,
		"-r", strconv.Itoa(f.SampleRate),
		"-g", strconv.FormatFloat(f.Gain, 'f', 1, 64),
	}

	runCtx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("Running fluidsynth", logging.Fields{
		"args":    strings.Join(args, " "),
		"timeout": f.Timeout.Seconds(),
	})

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			err = fmt.Errorf("%w: %w", runCtx.Err(), err)
		}
		failure := &diagnostics.ExternalToolFailure{
			Tool:   f.Name(),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
		logger.Error(failure, "Fluidsynth render failed")
		return nil, failure
	}

	data, err := transcode.ReadWAV(outPath)
	if err != nil {
		return nil, &diagnostics.ExternalToolFailure{Tool: f.Name(), Err: fmt.Errorf("unreadable render: %w", err)}
	}
	return data, nil
}

// Sine is a deterministic additive renderer used when no synthesizer is
// installed. Each note is a velocity-scaled sine with a linear attack and a
// release tail after the note end.
type Sine struct {
	SampleRate int
	Attack     float64 // seconds
	Release    float64 // seconds
}

// NewSine creates a sine renderer with 50 ms attack and 100 ms release
func NewSine(sampleRate int) *Sine {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &Sine{SampleRate: sampleRate, Attack: 0.05, Release: 0.1}
}

func (s *Sine) Name() string {
	return "sine"
}

// Render ignores bank and returns peak-normalized 16-bit mono audio
func (s *Sine) Render(ctx context.Context, seq *score.Sequence, _ string) (*transcode.AudioData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sr := float64(s.SampleRate)
	attack := int(s.Attack * sr)
	release := int(s.Release * sr)
	total := int(math.Round(seq.Duration()*sr)) + release
	out := make([]float64, total)

	for _, n := range seq.Notes {
		freq := 440.0 * math.Pow(2, float64(n.Pitch-69)/12.0)
		amp := float64(n.Velocity) / 127.0
		start := int(math.Round(n.Start * sr))
		length := int(math.Round(n.Duration() * sr))

		for i := 0; i < length+release && start+i < total; i++ {
			env := 1.0
			if i < attack {
				env = float64(i) / float64(attack)
			}
			if i >= length {
				env *= 1.0 - float64(i-length)/float64(release)
			}
			out[start+i] += amp * env * math.Sin(2*math.Pi*freq*float64(i)/sr)
		}
	}

	return transcode.NewAudioData(common.PeakNormalize(out), s.SampleRate, 1, 16), nil
}
