package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "results", cfg.Output)
	assert.Equal(t, 0.6, cfg.Threshold)
	assert.False(t, cfg.Humanize)
	assert.True(t, cfg.HumanizeTiming)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 22050, cfg.Analysis.SampleRate)
	assert.Equal(t, 2048, cfg.Analysis.WindowSize)
	assert.Equal(t, 512, cfg.Analysis.HopSize)
	assert.Equal(t, RendererAuto, cfg.Render.Renderer)
	assert.Equal(t, "fluidsynth", cfg.Render.FluidSynthPath)
	assert.Equal(t, 2*time.Minute, cfg.Render.Timeout)
	assert.Equal(t, 44100, cfg.Render.SampleRate)
	assert.Equal(t, 1.0, cfg.Render.Gain)
	assert.Len(t, cfg.Render.Soundfonts, 2)
	assert.Equal(t, "ffmpeg", cfg.Decoder.FFmpegPath)
	assert.Equal(t, 60*time.Second, cfg.Decoder.Timeout)
	assert.Empty(t, cfg.Ledger.Path)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
threshold: 0.3
seed: 7
render:
  renderer: sine
  timeout: 30s
ledger:
  path: runs.db
`), 0o644))

	t.Setenv("SCRIBE_SEED", "9")
	t.Setenv("SCRIBE_RENDER_SOUNDFONTS", "/a.sf2,/b.sf2")

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.Float64("threshold", 0.6, "")
	flags.Bool("humanize", false, "")
	require.NoError(t, flags.Parse([]string{"--humanize"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	// unset flag falls through to the file
	assert.Equal(t, 0.3, cfg.Threshold)
	assert.True(t, cfg.Humanize)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, RendererSine, cfg.Render.Renderer)
	assert.Equal(t, 30*time.Second, cfg.Render.Timeout)
	assert.Equal(t, "runs.db", cfg.Ledger.Path)
	assert.Equal(t, []string{"/a.sf2", "/b.sf2"}, cfg.Render.Soundfonts)
	assert.Equal(t, []string{"/a.sf2", "/b.sf2"}, cfg.Synth().Soundfonts)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("SCRIBE_THRESHOLD", "1.5")
	_, err := Load("", nil)
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidateRenderer(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	cfg.Render.Renderer = "timidity"
	assert.Error(t, cfg.Validate())
}

func TestStageConfigs(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	cfg.Threshold = 0.25
	cfg.HumanizeTiming = false
	cfg.Analysis.HopSize = 256

	assert.Equal(t, 0.25, cfg.Transcription().Threshold)
	assert.False(t, cfg.Humanizer().Timing)
	assert.Equal(t, 256, cfg.Frontend().HopSize)
	assert.Equal(t, 84, cfg.Frontend().NumBins)
	assert.Equal(t, "ffmpeg", cfg.DecoderConfig().FFmpegPath)
}

func TestSeparationAndMetricCalibration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("separation:\n  kernel_size: 17\n  bass_cutoff: 150\nmetrics:\n  onset_base: 0.9\n"), 0o644))
	t.Setenv("SCRIBE_METRICS_PROXY_DECAY", "4")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	sep := cfg.Separator()
	assert.Equal(t, 17, sep.KernelSize)
	assert.Equal(t, 150.0, sep.BassCutoff)
	assert.Equal(t, 4000.0, sep.VocalsCutoff)
	assert.Equal(t, 2.0, sep.MaskPower)

	mc := cfg.Evaluator()
	assert.Equal(t, 0.9, mc.OnsetBase)
	assert.Equal(t, 0.78, mc.NoteBase)
	assert.Equal(t, 4.0, mc.ProxyDecay)
	assert.Equal(t, 20, mc.MFCCCoefficients)

	cfg.Metrics.ProxyDecay = 0
	assert.Error(t, cfg.Validate())
}
