// Package config loads run settings from defaults, an optional YAML file,
// SCRIBE_ environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-scribe/frontend"
	"github.com/RyanBlaney/sonido-scribe/humanize"
	"github.com/RyanBlaney/sonido-scribe/metrics"
	"github.com/RyanBlaney/sonido-scribe/separation"
	"github.com/RyanBlaney/sonido-scribe/synth"
	"github.com/RyanBlaney/sonido-scribe/transcode"
	"github.com/RyanBlaney/sonido-scribe/transcription"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// replaced by underscores (SCRIBE_RENDER_RENDERER)
const EnvPrefix = "SCRIBE"

// Renderer choices
const (
	RendererAuto       = "auto"
	RendererFluidSynth = "fluidsynth"
	RendererSine       = "sine"
)

type Config struct {
	Input          string           `mapstructure:"input" yaml:"input"`
	Output         string           `mapstructure:"output" yaml:"output"`
	Threshold      float64          `mapstructure:"threshold" yaml:"threshold"`
	Humanize       bool             `mapstructure:"humanize" yaml:"humanize"`
	HumanizeTiming bool             `mapstructure:"humanize_timing" yaml:"humanize_timing"`
	Seed           int64            `mapstructure:"seed" yaml:"seed"`
	Log            LogConfig        `mapstructure:"log" yaml:"log"`
	Analysis       AnalysisConfig   `mapstructure:"analysis" yaml:"analysis"`
	Separation     SeparationConfig `mapstructure:"separation" yaml:"separation"`
	Metrics        MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Render         RenderConfig     `mapstructure:"render" yaml:"render"`
	Decoder        DecoderConfig    `mapstructure:"decoder" yaml:"decoder"`
	Ledger         LedgerConfig     `mapstructure:"ledger" yaml:"ledger"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type AnalysisConfig struct {
	SampleRate int `mapstructure:"sample_rate" yaml:"sample_rate"`
	WindowSize int `mapstructure:"window_size" yaml:"window_size"`
	HopSize    int `mapstructure:"hop_size" yaml:"hop_size"`
}

type SeparationConfig struct {
	KernelSize   int     `mapstructure:"kernel_size" yaml:"kernel_size"`
	MaskPower    float64 `mapstructure:"mask_power" yaml:"mask_power"`
	BassCutoff   float64 `mapstructure:"bass_cutoff" yaml:"bass_cutoff"`
	VocalsCutoff float64 `mapstructure:"vocals_cutoff" yaml:"vocals_cutoff"`
}

// MetricsConfig calibrates the heuristic accuracy proxies
type MetricsConfig struct {
	OnsetBase  float64 `mapstructure:"onset_base" yaml:"onset_base"`
	NoteBase   float64 `mapstructure:"note_base" yaml:"note_base"`
	ProxyDecay float64 `mapstructure:"proxy_decay" yaml:"proxy_decay"`
}

type RenderConfig struct {
	Renderer       string        `mapstructure:"renderer" yaml:"renderer"`
	FluidSynthPath string        `mapstructure:"fluidsynth_path" yaml:"fluidsynth_path"`
	Soundfonts     []string      `mapstructure:"soundfonts" yaml:"soundfonts"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SampleRate     int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Gain           float64       `mapstructure:"gain" yaml:"gain"`
}

type DecoderConfig struct {
	FFmpegPath string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LedgerConfig struct {
	// Path of the SQLite run ledger; empty disables recording
	Path string `mapstructure:"path" yaml:"path"`
}

// flagKeys maps command-line flag names onto configuration keys
var flagKeys = map[string]string{
	"input":     "input",
	"output":    "output",
	"threshold": "threshold",
	"humanize":  "humanize",
	"seed":      "seed",
	"renderer":  "render.renderer",
	"log-level": "log.level",
	"ledger":    "ledger.path",
}

func setDefaults(v *viper.Viper) {
	fe := frontend.DefaultConfig()
	dec := transcode.DefaultDecoderConfig()
	fs := synth.NewFluidSynth("")
	sep := separation.DefaultConfig()
	mc := metrics.DefaultConfig()

	v.SetDefault("input", "")
	v.SetDefault("output", "results")
	v.SetDefault("threshold", transcription.DefaultConfig().Threshold)
	v.SetDefault("humanize", false)
	v.SetDefault("humanize_timing", humanize.DefaultConfig().Timing)
	v.SetDefault("seed", 42)
	v.SetDefault("log.level", "info")
	v.SetDefault("analysis.sample_rate", fe.SampleRate)
	v.SetDefault("analysis.window_size", fe.WindowSize)
	v.SetDefault("analysis.hop_size", fe.HopSize)
	v.SetDefault("separation.kernel_size", sep.KernelSize)
	v.SetDefault("separation.mask_power", sep.MaskPower)
	v.SetDefault("separation.bass_cutoff", sep.BassCutoff)
	v.SetDefault("separation.vocals_cutoff", sep.VocalsCutoff)
	v.SetDefault("metrics.onset_base", mc.OnsetBase)
	v.SetDefault("metrics.note_base", mc.NoteBase)
	v.SetDefault("metrics.proxy_decay", mc.ProxyDecay)
	v.SetDefault("render.renderer", RendererAuto)
	v.SetDefault("render.fluidsynth_path", fs.Path)
	v.SetDefault("render.soundfonts", synth.DefaultSoundfonts)
	v.SetDefault("render.timeout", fs.Timeout)
	v.SetDefault("render.sample_rate", fs.SampleRate)
	v.SetDefault("render.gain", fs.Gain)
	v.SetDefault("decoder.ffmpeg_path", dec.FFmpegPath)
	v.SetDefault("decoder.timeout", dec.Timeout)
	v.SetDefault("ledger.path", "")
}

// Load builds the configuration. path names an explicit YAML file; when
// empty, scribe.yaml in the working directory is read if present. flags may
// be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("scribe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// AutomaticEnv values arrive as one string
	if len(cfg.Render.Soundfonts) == 1 && strings.Contains(cfg.Render.Soundfonts[0], ",") {
		cfg.Render.Soundfonts = strings.Split(cfg.Render.Soundfonts[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no stage can run with
func (c *Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0, 1], got %g", c.Threshold)
	}
	switch c.Render.Renderer {
	case RendererAuto, RendererFluidSynth, RendererSine:
	default:
		return fmt.Errorf("unknown renderer %q", c.Render.Renderer)
	}
	if c.Analysis.SampleRate <= 0 || c.Analysis.HopSize <= 0 || c.Analysis.WindowSize <= 0 {
		return fmt.Errorf("analysis sample rate, window and hop must be positive")
	}
	if c.Render.SampleRate <= 0 {
		return fmt.Errorf("render sample rate must be positive")
	}
	if c.Separation.KernelSize <= 0 || c.Separation.BassCutoff >= c.Separation.VocalsCutoff {
		return fmt.Errorf("separation kernel must be positive and bass cutoff below vocals cutoff")
	}
	if c.Metrics.OnsetBase < 0 || c.Metrics.NoteBase < 0 || c.Metrics.ProxyDecay <= 0 {
		return fmt.Errorf("metric proxy bases must be non-negative and decay positive")
	}
	return nil
}

// Frontend returns the analysis layout
func (c *Config) Frontend() frontend.Config {
	fe := frontend.DefaultConfig()
	fe.SampleRate = c.Analysis.SampleRate
	fe.WindowSize = c.Analysis.WindowSize
	fe.HopSize = c.Analysis.HopSize
	return fe
}

// Transcription returns the detection parameters
func (c *Config) Transcription() transcription.Config {
	tc := transcription.DefaultConfig()
	tc.Threshold = c.Threshold
	return tc
}

// Separator returns the separation parameters
func (c *Config) Separator() separation.Config {
	sc := separation.DefaultConfig()
	sc.KernelSize = c.Separation.KernelSize
	sc.MaskPower = c.Separation.MaskPower
	sc.BassCutoff = c.Separation.BassCutoff
	sc.VocalsCutoff = c.Separation.VocalsCutoff
	return sc
}

// Evaluator returns the metric calibration
func (c *Config) Evaluator() metrics.Config {
	mc := metrics.DefaultConfig()
	mc.OnsetBase = c.Metrics.OnsetBase
	mc.NoteBase = c.Metrics.NoteBase
	mc.ProxyDecay = c.Metrics.ProxyDecay
	return mc
}

// Humanizer returns the humanization parameters
func (c *Config) Humanizer() humanize.Config {
	hc := humanize.DefaultConfig()
	hc.Timing = c.HumanizeTiming
	return hc
}

// DecoderConfig returns the decoder settings
func (c *Config) DecoderConfig() *transcode.DecoderConfig {
	dc := transcode.DefaultDecoderConfig()
	dc.FFmpegPath = c.Decoder.FFmpegPath
	dc.Timeout = c.Decoder.Timeout
	return dc
}

// Synth returns the synthesizer settings
func (c *Config) Synth() synth.Config {
	sc := synth.DefaultConfig()
	if len(c.Render.Soundfonts) > 0 {
		sc.Soundfonts = c.Render.Soundfonts
	}
	return sc
}
