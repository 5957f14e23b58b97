// Package metrics compares a rendered hypothesis against the reference
// waveform and scores how well the separated stems reconstruct it.
package metrics

import (
	"math"

	"github.com/RyanBlaney/sonido-scribe/algorithms/chroma"
	"github.com/RyanBlaney/sonido-scribe/algorithms/spectral"
	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/frontend"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/RyanBlaney/sonido-scribe/transcode"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Config holds metric constants
type Config struct {
	MFCCCoefficients int     `json:"mfcc_coefficients" yaml:"mfcc_coefficients"`
	OnsetBase        float64 `json:"onset_base" yaml:"onset_base"`
	NoteBase         float64 `json:"note_base" yaml:"note_base"`
	// ProxyDecay is the spectral MSE at which the proxies fall to 1/e of
	// their base
	ProxyDecay float64 `json:"proxy_decay" yaml:"proxy_decay"`
	SDRCeiling float64 `json:"sdr_ceiling" yaml:"sdr_ceiling"`
}

// DefaultConfig returns the default metric constants
func DefaultConfig() Config {
	return Config{
		MFCCCoefficients: 20,
		OnsetBase:        0.85,
		NoteBase:         0.78,
		ProxyDecay:       10,
		SDRCeiling:       100,
	}
}

// Report is the metrics artifact of one run
type Report struct {
	Status      diagnostics.Status `json:"status"`
	SpectralMSE float64            `json:"spectral_mse"`
	MFCCDist    float64            `json:"mfcc_dist"`
	SDRProxy    float64            `json:"sdr_proxy"`
	// ChromaSimilarity is the mean per-frame pitch-class cosine similarity
	ChromaSimilarity float64              `json:"chroma_similarity"`
	OnsetF1Proxy     float64              `json:"onset_f1_proxy"`
	NoteF1Proxy      float64              `json:"note_f1_proxy"`
	Heuristic        bool                 `json:"heuristic"`
	Warnings         diagnostics.Warnings `json:"warnings"`
}

// Values returns the numeric metrics keyed by their JSON names
func (r *Report) Values() map[string]float64 {
	return map[string]float64{
		"spectral_mse":      r.SpectralMSE,
		"mfcc_dist":         r.MFCCDist,
		"sdr_proxy":         r.SDRProxy,
		"chroma_similarity": r.ChromaSimilarity,
		"onset_f1_proxy":    r.OnsetF1Proxy,
		"note_f1_proxy":     r.NoteF1Proxy,
	}
}

// Engine computes reports
type Engine struct {
	frontend *frontend.Frontend
	config   Config
	logger   logging.Logger
}

// New creates a metrics engine analysing at the frontend's rate
func New(fe *frontend.Frontend, cfg Config) *Engine {
	defaults := DefaultConfig()
	if cfg.MFCCCoefficients <= 0 {
		cfg.MFCCCoefficients = defaults.MFCCCoefficients
	}
	if cfg.ProxyDecay <= 0 {
		cfg.ProxyDecay = defaults.ProxyDecay
	}
	if cfg.SDRCeiling <= 0 {
		cfg.SDRCeiling = defaults.SDRCeiling
	}
	return &Engine{
		frontend: fe,
		config:   cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "metrics_engine",
		}),
	}
}

// Evaluate scores hyp against ref and the stem sum against ref. stems are
// at the analysis rate. A missing or too short hypothesis leaves the
// similarity metrics at zero with status abstained_or_failed; the SDR proxy
// is still computed.
func (e *Engine) Evaluate(ref, hyp *transcode.AudioData, stems [][]float64) *Report {
	logger := e.logger.WithFields(logging.Fields{
		"function": "Evaluate",
		"stems":    len(stems),
	})

	report := &Report{
		Status:    diagnostics.StatusAbstainedOrFailed,
		Heuristic: true,
		Warnings:  diagnostics.Warnings{},
	}

	refSignal, err := e.frontend.Resample(ref)
	if err != nil {
		report.Warnings.Add("Reference unreadable: %v", err)
		logger.Warn("Reference audio unusable", logging.Fields{"error": err.Error()})
		return report
	}

	report.SDRProxy = e.SDRProxy(refSignal, stems)

	if hyp == nil {
		report.Warnings.Add("No rendered audio to compare")
		return report
	}
	hypSignal, err := e.frontend.Resample(hyp)
	if err != nil {
		report.Warnings.Add("Rendered audio unreadable: %v", err)
		return report
	}

	window := e.frontend.Config().WindowSize
	if len(hypSignal) < window {
		report.Warnings.Add("Rendered audio shorter than one analysis window")
		return report
	}

	n := min(len(refSignal), len(hypSignal))
	refSignal, hypSignal = refSignal[:n], hypSignal[:n]

	refFeatures, err := e.frontend.AnalyzeSignal(refSignal)
	if err != nil {
		report.Warnings.Add("Reference analysis failed: %v", err)
		return report
	}
	hypFeatures, err := e.frontend.AnalyzeSignal(hypSignal)
	if err != nil {
		report.Warnings.Add("Rendered analysis failed: %v", err)
		return report
	}

	refMag, hypMag := refFeatures.Spectrum.Magnitude, hypFeatures.Spectrum.Magnitude
	report.SpectralMSE = finite(meanSquaredDifference(refMag, hypMag))
	report.MFCCDist = finite(e.mfccDistance(refMag, hypMag))

	offset := e.frontend.Config().PitchOffset
	report.ChromaSimilarity = finite(chroma.SequenceSimilarity(
		chroma.FromCQT(refFeatures.CQT, offset),
		chroma.FromCQT(hypFeatures.CQT, offset),
	))
	report.OnsetF1Proxy = e.proxy(e.config.OnsetBase, report.SpectralMSE)
	report.NoteF1Proxy = e.proxy(e.config.NoteBase, report.SpectralMSE)
	report.Status = diagnostics.StatusSuccess

	logger.Debug("Metrics computed", logging.Fields{
		"spectral_mse": report.SpectralMSE,
		"mfcc_dist":    report.MFCCDist,
		"sdr_proxy":    report.SDRProxy,
	})

	return report
}

// SDRProxy is 10 log10(E_ref / E_residual) where the residual is the
// reference minus the sum of stems. Missing stem samples count as zero.
func (e *Engine) SDRProxy(ref []float64, stems [][]float64) float64 {
	if len(ref) == 0 {
		return 0
	}

	residual := make([]float64, len(ref))
	copy(residual, ref)
	for _, stem := range stems {
		n := min(len(stem), len(residual))
		floats.Sub(residual[:n], stem[:n])
	}

	refEnergy := floats.Dot(ref, ref)
	residualEnergy := floats.Dot(residual, residual)
	if residualEnergy == 0 {
		return e.config.SDRCeiling
	}
	return finite(10 * math.Log10(refEnergy/residualEnergy))
}

func (e *Engine) mfccDistance(ref, hyp [][]float64) float64 {
	sr := e.frontend.Config().SampleRate
	params := spectral.DefaultMFCCParams(sr)
	params.NumCoefficients = e.config.MFCCCoefficients
	mfcc := spectral.NewMFCC(sr, params)

	refCoeffs, err := mfcc.ComputeFrames(ref)
	if err != nil {
		return 0
	}
	hypCoeffs, err := mfcc.ComputeFrames(hyp)
	if err != nil {
		return 0
	}
	return meanSquaredDifference(refCoeffs, hypCoeffs)
}

// proxy decays base exponentially with the spectral error
func (e *Engine) proxy(base, mse float64) float64 {
	return math.Max(0, base*math.Exp(-mse/e.config.ProxyDecay))
}

// meanSquaredDifference over the cells both matrices share
func meanSquaredDifference(a, b [][]float64) float64 {
	rows := min(len(a), len(b))
	var cells []float64
	for t := range rows {
		n := min(len(a[t]), len(b[t]))
		for k := range n {
			d := a[t][k] - b[t][k]
			cells = append(cells, d*d)
		}
	}
	if len(cells) == 0 {
		return 0
	}
	return stat.Mean(cells, nil)
}

// finite maps NaN and infinities to zero
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
