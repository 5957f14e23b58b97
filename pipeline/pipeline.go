// Package pipeline runs one audio file through separation, transcription,
// optional humanization, synthesis and evaluation, writing every artifact
// into a run directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-scribe/config"
	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/frontend"
	"github.com/RyanBlaney/sonido-scribe/humanize"
	"github.com/RyanBlaney/sonido-scribe/ledger"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/RyanBlaney/sonido-scribe/metrics"
	"github.com/RyanBlaney/sonido-scribe/score"
	"github.com/RyanBlaney/sonido-scribe/separation"
	"github.com/RyanBlaney/sonido-scribe/synth"
	"github.com/RyanBlaney/sonido-scribe/transcode"
	"github.com/RyanBlaney/sonido-scribe/transcription"
	"github.com/google/uuid"
)

// Artifact file names inside a run directory
const (
	ScoreFile                    = "transcription.mid"
	HumanizedScoreFile           = "transcription_humanized.mid"
	RenderFile                   = "rendered.wav"
	SeparationDiagnosticsFile    = "separation_diagnostics.json"
	TranscriptionDiagnosticsFile = "transcription_diagnostics.json"
	RenderDiagnosticsFile        = "render_diagnostics.json"
	MetricsFile                  = "metrics.json"
	EnvironmentFile              = "env.yaml"
	StemDir                      = "stems"
)

// Deps are the collaborators a runner does not build itself
type Deps struct {
	Decoder  *transcode.Decoder
	Renderer synth.Renderer
	// Ledger is optional
	Ledger *ledger.Ledger
}

// Summary describes one completed run
type Summary struct {
	RunID         string                           `json:"run_id"`
	Input         string                           `json:"input"`
	OutputDir     string                           `json:"output_dir"`
	Separation    separation.Diagnostics           `json:"separation"`
	Transcription transcription.Diagnostics        `json:"transcription"`
	Render        synth.RenderDiagnostics          `json:"render"`
	Metrics       *metrics.Report                  `json:"metrics"`
	Abstention    *diagnostics.AbstentionCondition `json:"abstention,omitempty"`
	Artifacts     []string                         `json:"artifacts"`
	Elapsed       time.Duration                    `json:"elapsed"`
}

// Runner executes the pipeline
type Runner struct {
	config      *config.Config
	deps        Deps
	frontend    *frontend.Frontend
	separator   *separation.Separator
	transcriber *transcription.Transcriber
	synthesizer *synth.Synthesizer
	metrics     *metrics.Engine
	logger      logging.Logger
}

// New wires the stages from configuration. A nil decoder or renderer is
// built from cfg.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	fe, err := frontend.New(cfg.Frontend())
	if err != nil {
		return nil, fmt.Errorf("failed to create frontend: %w", err)
	}

	if deps.Decoder == nil {
		deps.Decoder = transcode.NewDecoder(cfg.DecoderConfig())
	}
	if deps.Renderer == nil {
		deps.Renderer = SelectRenderer(cfg)
	}

	return &Runner{
		config:      cfg,
		deps:        deps,
		frontend:    fe,
		separator:   separation.New(fe, cfg.Separator()),
		transcriber: transcription.New(fe, cfg.Transcription()),
		synthesizer: synth.New(deps.Renderer, cfg.Synth()),
		metrics:     metrics.New(fe, cfg.Evaluator()),
		logger: logging.WithFields(logging.Fields{
			"component": "pipeline",
		}),
	}, nil
}

// SelectRenderer resolves the configured renderer. auto picks fluidsynth
// when the binary and a soundfont are both present, otherwise sine.
func SelectRenderer(cfg *config.Config) synth.Renderer {
	fluid := synth.NewFluidSynth(cfg.Render.FluidSynthPath)
	fluid.SampleRate = cfg.Render.SampleRate
	fluid.Gain = cfg.Render.Gain
	if cfg.Render.Timeout > 0 {
		fluid.Timeout = cfg.Render.Timeout
	}

	switch cfg.Render.Renderer {
	case config.RendererFluidSynth:
		return fluid
	case config.RendererSine:
		return synth.NewSine(cfg.Render.SampleRate)
	}

	if _, err := exec.LookPath(fluid.Path); err == nil {
		if _, err := synth.ResolveSoundfont(cfg.Synth().Soundfonts); err == nil {
			return fluid
		}
	}
	return synth.NewSine(cfg.Render.SampleRate)
}

// Run decodes input and processes it
func (r *Runner) Run(ctx context.Context, input string) (*Summary, error) {
	runID := uuid.NewString()
	outDir := r.config.Output

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := WriteEnvironment(filepath.Join(outDir, EnvironmentFile), NewEnvironment(runID, input, r.config, r.deps.Renderer.Name())); err != nil {
		return nil, err
	}

	audio, err := r.deps.Decoder.DecodeFile(ctx, input)
	if err != nil {
		return nil, r.fail(outDir, fmt.Errorf("failed to decode %s: %w", input, err))
	}

	return r.process(ctx, runID, input, audio)
}

// RunAudio processes already decoded audio
func (r *Runner) RunAudio(ctx context.Context, audio *transcode.AudioData) (*Summary, error) {
	runID := uuid.NewString()
	if err := os.MkdirAll(r.config.Output, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	source := ""
	if audio != nil {
		source = audio.Source
	}
	if err := WriteEnvironment(filepath.Join(r.config.Output, EnvironmentFile), NewEnvironment(runID, source, r.config, r.deps.Renderer.Name())); err != nil {
		return nil, err
	}
	return r.process(ctx, runID, source, audio)
}

func (r *Runner) process(ctx context.Context, runID, input string, audio *transcode.AudioData) (*Summary, error) {
	started := time.Now()
	outDir := r.config.Output
	logger := r.logger.WithFields(logging.Fields{
		"function": "Run",
		"run_id":   runID,
		"input":    input,
	})

	if audio == nil {
		return nil, r.fail(outDir, diagnostics.NewInvalidAudio(input, "no audio"))
	}
	if err := audio.Validate(); err != nil {
		return nil, r.fail(outDir, err)
	}

	summary := &Summary{
		RunID:     runID,
		Input:     input,
		OutputDir: outDir,
		Artifacts: []string{filepath.Join(outDir, EnvironmentFile)},
	}

	logger.Info("Separating sources", logging.Fields{
		"duration": audio.Duration.Seconds(),
		"channels": audio.Channels,
	})
	separated, err := r.separator.Separate(audio)
	if err != nil {
		return nil, r.fail(outDir, fmt.Errorf("separation failed: %w", err))
	}
	stems, err := r.separator.Persist(separated, outDir)
	summary.Separation = separated.Diagnostics
	summary.Artifacts = append(summary.Artifacts, stems...)
	if err != nil {
		logger.Error(err, "Failed to persist stems")
		summary.Separation.Status = diagnostics.StatusFailed
		summary.Separation.StemsCreated = stemNames(stems)
		summary.Separation.Warnings.Add("Failed to write stems: %v", err)
	}

	logger.Info("Transcribing", logging.Fields{"threshold": r.config.Threshold})
	transcribed, err := r.transcriber.Transcribe(audio)
	if err != nil {
		return nil, r.fail(outDir, fmt.Errorf("transcription failed: %w", err))
	}
	summary.Transcription = transcribed.Diagnostics
	summary.Abstention = transcribed.Abstention

	seq := transcribed.Sequence
	if path, err := r.writeScore(seq, ScoreFile, &summary.Transcription); err == nil {
		summary.Artifacts = append(summary.Artifacts, path)
	}
	if r.config.Humanize && !transcribed.Abstained() {
		seq = humanize.New(r.config.Seed, r.config.Humanizer()).Apply(seq)
		if path, err := r.writeScore(seq, HumanizedScoreFile, &summary.Transcription); err == nil {
			summary.Artifacts = append(summary.Artifacts, path)
		}
	}

	logger.Info("Rendering", logging.Fields{
		"renderer": r.deps.Renderer.Name(),
		"notes":    seq.Len(),
	})
	rendered := r.synthesizer.Synthesize(ctx, seq, renderBitDepth(audio.BitDepth))
	summary.Render = rendered.Diagnostics
	hypothesis := rendered.Audio
	if hypothesis != nil {
		renderPath := filepath.Join(outDir, RenderFile)
		if err := transcode.WriteWAV(renderPath, hypothesis, hypothesis.BitDepth); err != nil {
			logger.Error(err, "Failed to write render")
			summary.Render.Status = diagnostics.StatusFailed
			summary.Render.Error = err.Error()
			hypothesis = nil
		} else {
			summary.Artifacts = append(summary.Artifacts, renderPath)
		}
	}

	logger.Info("Evaluating")
	summary.Metrics = r.metrics.Evaluate(audio, hypothesis, separated.RawStems())

	written, err := writeDiagnostics(outDir, &summary.Separation, &summary.Transcription, &summary.Render, summary.Metrics)
	summary.Artifacts = append(summary.Artifacts, written...)
	if err != nil {
		return nil, err
	}

	summary.Elapsed = time.Since(started)
	r.record(ctx, summary)

	logger.Info("Run complete", logging.Fields{
		"transcription": summary.Transcription.Status,
		"render":        summary.Render.Status,
		"metrics":       summary.Metrics.Status,
		"notes":         summary.Transcription.Notes,
		"elapsed":       summary.Elapsed.Seconds(),
	})

	return summary, nil
}

// writeScore saves seq under name. A failure marks the transcription
// diagnostics failed; the in-memory sequence is still rendered.
func (r *Runner) writeScore(seq *score.Sequence, name string, diag *transcription.Diagnostics) (string, error) {
	path := filepath.Join(r.config.Output, name)
	if err := seq.WriteFile(path); err != nil {
		r.logger.Error(err, "Failed to write score", logging.Fields{"path": path})
		diag.Status = diagnostics.StatusFailed
		diag.Reason = err.Error()
		diag.Warnings.Add("Failed to write %s: %v", name, err)
		return "", err
	}
	return path, nil
}

func stemNames(paths []string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, strings.TrimSuffix(filepath.Base(p), ".wav"))
	}
	return names
}

// fail writes failed diagnostics for every stage and returns err
func (r *Runner) fail(outDir string, err error) error {
	r.logger.Error(err, "Run aborted", logging.Fields{"output": outDir})

	sep := separation.Diagnostics{
		Status:       diagnostics.StatusFailed,
		StemsCreated: []string{},
		StemsSilent:  []string{},
	}
	sep.Warnings.Add("%v", err)

	tr := transcription.Diagnostics{
		Status:    diagnostics.StatusFailed,
		Reason:    err.Error(),
		Warnings:  diagnostics.Warnings{},
		Threshold: r.config.Threshold,
	}
	render := synth.RenderDiagnostics{
		Status:   diagnostics.StatusFailed,
		Renderer: r.deps.Renderer.Name(),
		Error:    err.Error(),
		Warnings: diagnostics.Warnings{},
	}
	report := &metrics.Report{
		Status:    diagnostics.StatusAbstainedOrFailed,
		Heuristic: true,
		Warnings:  diagnostics.Warnings{},
	}

	if _, werr := writeDiagnostics(outDir, &sep, &tr, &render, report); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

func writeDiagnostics(outDir string, sep *separation.Diagnostics, tr *transcription.Diagnostics, render *synth.RenderDiagnostics, report *metrics.Report) ([]string, error) {
	files := []struct {
		name string
		v    any
	}{
		{SeparationDiagnosticsFile, sep},
		{TranscriptionDiagnosticsFile, tr},
		{RenderDiagnosticsFile, render},
		{MetricsFile, report},
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(outDir, f.name)
		if err := diagnostics.WriteJSON(path, f.v); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// record stores the run in the ledger; failures are logged only
func (r *Runner) record(ctx context.Context, summary *Summary) {
	if r.deps.Ledger == nil {
		return
	}
	err := r.deps.Ledger.Record(ctx, ledger.Run{
		ID:                  summary.RunID,
		Input:               summary.Input,
		OutputDir:           summary.OutputDir,
		Threshold:           r.config.Threshold,
		Humanize:            r.config.Humanize,
		Seed:                r.config.Seed,
		Renderer:            summary.Render.Renderer,
		TranscriptionStatus: string(summary.Transcription.Status),
		RenderStatus:        string(summary.Render.Status),
		MetricsStatus:       string(summary.Metrics.Status),
		Metrics:             summary.Metrics.Values(),
	})
	if err != nil {
		r.logger.Warn("Failed to record run in ledger", logging.Fields{
			"run_id": summary.RunID,
			"error":  err.Error(),
		})
	}
}

// renderBitDepth keeps the source depth when WAV can carry it as integer PCM
func renderBitDepth(source int) int {
	switch source {
	case 8, 16, 24, 32:
		return source
	}
	return 16
}

// Artifacts are the persisted outputs of a run directory
type Artifacts struct {
	Stems             map[separation.StemName]*transcode.AudioData
	Score             *score.Sequence
	HumanizedScore    *score.Sequence
	Render            *transcode.AudioData
	Separation        separation.Diagnostics
	Transcription     transcription.Diagnostics
	RenderDiagnostics synth.RenderDiagnostics
	Metrics           metrics.Report
	Environment       *Environment
}

// LoadArtifacts reads a run directory back. A missing stem, score or report
// yields a ResourceNotFoundError. rendered.wav and the humanized score are
// optional since failed renders and plain runs do not produce them.
func LoadArtifacts(dir string) (*Artifacts, error) {
	a := &Artifacts{Stems: make(map[separation.StemName]*transcode.AudioData)}

	if err := diagnostics.ReadJSON(filepath.Join(dir, SeparationDiagnosticsFile), "report", &a.Separation); err != nil {
		return nil, err
	}
	if err := diagnostics.ReadJSON(filepath.Join(dir, TranscriptionDiagnosticsFile), "report", &a.Transcription); err != nil {
		return nil, err
	}
	if err := diagnostics.ReadJSON(filepath.Join(dir, RenderDiagnosticsFile), "report", &a.RenderDiagnostics); err != nil {
		return nil, err
	}
	if err := diagnostics.ReadJSON(filepath.Join(dir, MetricsFile), "report", &a.Metrics); err != nil {
		return nil, err
	}

	for _, name := range a.Separation.StemsCreated {
		path := filepath.Join(dir, StemDir, name+".wav")
		if _, err := os.Stat(path); err != nil {
			return nil, &diagnostics.ResourceNotFoundError{Kind: "stem", Path: path}
		}
		data, err := transcode.ReadWAV(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read stem %s: %w", name, err)
		}
		a.Stems[separation.StemName(name)] = data
	}

	seq, err := score.ReadFile(filepath.Join(dir, ScoreFile))
	if err != nil {
		return nil, err
	}
	a.Score = seq

	humanizedPath := filepath.Join(dir, HumanizedScoreFile)
	if _, err := os.Stat(humanizedPath); err == nil {
		if a.HumanizedScore, err = score.ReadFile(humanizedPath); err != nil {
			return nil, err
		}
	}

	renderPath := filepath.Join(dir, RenderFile)
	if _, err := os.Stat(renderPath); err == nil {
		if a.Render, err = transcode.ReadWAV(renderPath); err != nil {
			return nil, fmt.Errorf("failed to read render: %w", err)
		}
	}

	env, err := ReadEnvironment(filepath.Join(dir, EnvironmentFile))
	if err != nil && !diagnostics.IsResourceNotFound(err) {
		return nil, err
	}
	a.Environment = env

	return a, nil
}
