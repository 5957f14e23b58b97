package metrics

import (
	"math"
	"testing"

	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/frontend"
	"github.com/RyanBlaney/sonido-scribe/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(freq float64, samples, sampleRate int) []float64 {
	out := make([]float64, samples)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	fe, err := frontend.New(frontend.DefaultConfig())
	require.NoError(t, err)
	return New(fe, DefaultConfig())
}

func TestIdenticalAudioScoresPerfectly(t *testing.T) {
	e := newEngine(t)
	signal := tone(440, 22050, 22050)
	ref := transcode.NewAudioData(signal, 22050, 1, 16)
	hyp := transcode.NewAudioData(signal, 22050, 1, 16)

	report := e.Evaluate(ref, hyp, nil)
	assert.Equal(t, diagnostics.StatusSuccess, report.Status)
	assert.InDelta(t, 0.0, report.SpectralMSE, 1e-12)
	assert.InDelta(t, 0.0, report.MFCCDist, 1e-12)
	assert.InDelta(t, 0.85, report.OnsetF1Proxy, 1e-12)
	assert.InDelta(t, 0.78, report.NoteF1Proxy, 1e-12)
	assert.InDelta(t, 1.0, report.ChromaSimilarity, 1e-9)
	assert.True(t, report.Heuristic)
}

func TestDifferentAudioLowersProxies(t *testing.T) {
	e := newEngine(t)
	ref := transcode.NewAudioData(tone(440, 22050, 22050), 22050, 1, 16)
	hyp := transcode.NewAudioData(tone(880, 30000, 22050), 22050, 1, 16)

	report := e.Evaluate(ref, hyp, nil)
	assert.Equal(t, diagnostics.StatusSuccess, report.Status)
	assert.Greater(t, report.SpectralMSE, 0.0)
	assert.Greater(t, report.MFCCDist, 0.0)
	assert.Less(t, report.OnsetF1Proxy, 0.85)
	// an octave apart shares the pitch class
	assert.Greater(t, report.ChromaSimilarity, 0.5)
	assert.Less(t, report.NoteF1Proxy, 0.78)
	assert.GreaterOrEqual(t, report.NoteF1Proxy, 0.0)
}

func TestProxyIsMonotone(t *testing.T) {
	e := newEngine(t)
	prev := math.Inf(1)
	for _, mse := range []float64{0, 0.5, 1, 10, 100, 1e6} {
		p := e.proxy(0.85, mse)
		assert.Less(t, p, prev+1e-15)
		assert.GreaterOrEqual(t, p, 0.0)
		prev = p
	}
}

func TestMissingHypothesis(t *testing.T) {
	e := newEngine(t)
	signal := tone(220, 22050, 22050)
	ref := transcode.NewAudioData(signal, 22050, 1, 16)

	half := make([]float64, len(signal))
	for i, v := range signal {
		half[i] = v / 2
	}

	report := e.Evaluate(ref, nil, [][]float64{half, half})
	assert.Equal(t, diagnostics.StatusAbstainedOrFailed, report.Status)
	assert.Zero(t, report.SpectralMSE)
	assert.Zero(t, report.MFCCDist)
	assert.Zero(t, report.OnsetF1Proxy)
	assert.Equal(t, 100.0, report.SDRProxy)
	assert.NotEmpty(t, report.Warnings)
}

func TestShortHypothesis(t *testing.T) {
	e := newEngine(t)
	ref := transcode.NewAudioData(tone(220, 22050, 22050), 22050, 1, 16)
	hyp := transcode.NewAudioData(tone(220, 1000, 22050), 22050, 1, 16)

	report := e.Evaluate(ref, hyp, nil)
	assert.Equal(t, diagnostics.StatusAbstainedOrFailed, report.Status)
	assert.Zero(t, report.SpectralMSE)
}

func TestSDRProxy(t *testing.T) {
	e := newEngine(t)
	ref := tone(220, 4096, 22050)

	// no stems: residual equals the reference
	assert.InDelta(t, 0.0, e.SDRProxy(ref, nil), 1e-9)

	scaled := make([]float64, len(ref))
	for i, v := range ref {
		scaled[i] = 0.9 * v
	}
	// residual is 0.1 of the reference: 20 dB
	assert.InDelta(t, 20.0, e.SDRProxy(ref, [][]float64{scaled}), 1e-6)

	assert.Zero(t, e.SDRProxy(nil, nil))
	assert.Zero(t, e.SDRProxy(make([]float64, 10), [][]float64{{1}}))
}

func TestInvalidReference(t *testing.T) {
	e := newEngine(t)
	report := e.Evaluate(&transcode.AudioData{}, nil, nil)
	assert.Equal(t, diagnostics.StatusAbstainedOrFailed, report.Status)
	assert.Zero(t, report.SDRProxy)
}
