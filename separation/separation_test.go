package separation

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/RyanBlaney/sonido-scribe/algorithms/common"
	"github.com/RyanBlaney/sonido-scribe/frontend"
	"github.com/RyanBlaney/sonido-scribe/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

const rate = 22050

func newSeparator(t *testing.T) (*Separator, *frontend.Frontend) {
	t.Helper()
	fe, err := frontend.New(frontend.DefaultConfig())
	require.NoError(t, err)
	return New(fe, DefaultConfig()), fe
}

func twoTone(seconds float64) []float64 {
	n := int(seconds * rate)
	out := make([]float64, n)
	for i := range out {
		ts := float64(i) / rate
		out[i] = 0.4*math.Sin(2*math.Pi*100*ts) + 0.4*math.Sin(2*math.Pi*6000*ts)
	}
	return out
}

// bandTruth band-masks the STFT of the mixture directly
func bandTruth(t *testing.T, fe *frontend.Frontend, signal []float64, lo, hi float64) []float64 {
	t.Helper()
	spec, err := fe.Spectrogram(signal)
	require.NoError(t, err)
	for tIdx := range spec.Complex {
		for k := range spec.Complex[tIdx] {
			f := spec.BinFrequency(k)
			if f < lo || f >= hi {
				spec.Complex[tIdx][k] = 0
			}
		}
	}
	out, err := fe.InverseSpectrogram(spec.Complex, len(signal))
	require.NoError(t, err)
	return out
}

func cosine(a, b []float64) float64 {
	return floats.Dot(a, b) / (floats.Norm(a, 2) * floats.Norm(b, 2))
}

func TestTwoToneStemsMatchBandTruth(t *testing.T) {
	sep, fe := newSeparator(t)
	signal := twoTone(1.0)

	result, err := sep.SeparateSignal(signal)
	require.NoError(t, err)

	cases := []struct {
		name   StemName
		lo, hi float64
	}{
		{Bass, 0, 200},
		{Other, 4000, math.Inf(1)},
	}
	for _, tc := range cases {
		truth := bandTruth(t, fe, signal, tc.lo, tc.hi)
		stem := result.Stem(tc.name)
		require.NotNil(t, stem)
		require.False(t, stem.Silent)
		require.Len(t, stem.Raw, len(truth))

		ratio := common.Energy(stem.Raw) / common.Energy(truth)
		assert.Greater(t, ratio, 0.9, "stem %s", tc.name)
		assert.Less(t, ratio, 1.1, "stem %s", tc.name)
		assert.Greater(t, cosine(stem.Raw, truth), 0.95, "stem %s", tc.name)
		assert.InDelta(t, 1.0, common.PeakAbs(stem.Samples), 1e-12)
	}
}

func TestHPSSPartsSumToInput(t *testing.T) {
	sep, _ := newSeparator(t)
	signal := twoTone(0.5)

	harmonic, percussive, err := sep.HPSS(signal)
	require.NoError(t, err)

	residual := make([]float64, len(signal))
	for i := range signal {
		residual[i] = signal[i] - harmonic[i] - percussive[i]
	}
	assert.Less(t, common.Energy(residual), 1e-3*common.Energy(signal))
}

func TestSilentInputCreatesNoStems(t *testing.T) {
	sep, _ := newSeparator(t)

	result, err := sep.SeparateSignal(make([]float64, rate/2))
	require.NoError(t, err)

	assert.Equal(t, "success", string(result.Diagnostics.Status))
	assert.Empty(t, result.Diagnostics.StemsCreated)
	assert.ElementsMatch(t, []string{"vocals", "bass", "drums", "other"}, result.Diagnostics.StemsSilent)
	assert.Equal(t, []string{silentStemsWarning}, []string(result.Diagnostics.Warnings))

	paths, err := sep.Persist(result, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestPersistWritesCreatedStems(t *testing.T) {
	sep, _ := newSeparator(t)
	dir := t.TempDir()

	result, err := sep.Separate(transcode.NewAudioData(twoTone(0.5), rate, 1, 16))
	require.NoError(t, err)

	paths, err := sep.Persist(result, dir)
	require.NoError(t, err)
	assert.Len(t, paths, len(result.Diagnostics.StemsCreated))

	for _, name := range result.Diagnostics.StemsCreated {
		path := filepath.Join(dir, "stems", name+".wav")
		_, err := os.Stat(path)
		require.NoError(t, err)

		data, err := transcode.ReadWAV(path)
		require.NoError(t, err)
		assert.Equal(t, rate, data.SampleRate)
		assert.Equal(t, 16, data.BitDepth)
		assert.Equal(t, len(result.Stem(StemName(name)).Samples), data.Frames())
	}
}

func TestSoftMasks(t *testing.T) {
	h, p := softMasks(3, 1, 2)
	assert.InDelta(t, 0.9, h, 1e-12)
	assert.InDelta(t, 0.1, p, 1e-12)

	h, p = softMasks(0, 0, 2)
	assert.Equal(t, 0.0, h)
	assert.Equal(t, 0.0, p)
}
