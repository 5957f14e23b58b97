package spectral

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/RyanBlaney/sonido-scribe/algorithms/windowing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 22050

func sine(freq float64, seconds float64) []float64 {
	n := int(seconds * testRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / testRate)
	}
	return out
}

func whiteNoise(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func TestSTFTCenteredFrameCount(t *testing.T) {
	signal := sine(440, 1.0)
	res, err := NewSTFT().ComputeCentered(signal, 2048, 512, testRate, windowing.NewHann(2048, false))
	require.NoError(t, err)

	assert.Equal(t, 1+len(signal)/512, res.TimeFrames)
	assert.Equal(t, 1025, res.FreqBins)
	assert.True(t, res.Centered)
	assert.Equal(t, len(signal), res.SignalLength)

	// 440 Hz lands within one bin of 440/10.77
	mid := res.Magnitude[res.TimeFrames/2]
	peak := 0
	for k := range mid {
		if mid[k] > mid[peak] {
			peak = k
		}
	}
	assert.InDelta(t, 440.0, res.BinFrequency(peak), res.FreqResolution)
}

func TestSTFTRejectsShortUncenteredSignal(t *testing.T) {
	_, err := NewSTFT().ComputeWithWindow(make([]float64, 100), 2048, 512, testRate, nil)
	assert.Error(t, err)
}

func TestInverseSTFTReconstructs(t *testing.T) {
	signal := whiteNoise(testRate/2, 7)
	window := windowing.NewHann(2048, false)

	stft := NewSTFT()
	res, err := stft.ComputeCentered(signal, 2048, 512, testRate, window)
	require.NoError(t, err)

	rebuilt, err := stft.Inverse(res.Complex, 2048, 512, window, true, len(signal))
	require.NoError(t, err)
	require.Len(t, rebuilt, len(signal))

	for i := range signal {
		assert.InDelta(t, signal[i], rebuilt[i], 1e-6)
	}
}

func TestCQTPeaksAtPitchBin(t *testing.T) {
	cqt, err := NewCQT(testRate, 512, 32.703195662574829, 84, 12)
	require.NoError(t, err)

	res, err := cqt.Compute(sine(440, 1.0))
	require.NoError(t, err)
	assert.Equal(t, 84, res.Bins)
	assert.Equal(t, 1+testRate/512, res.TimeFrames)

	frame := res.Magnitude[res.TimeFrames/2]
	peak := 0
	for b := range frame {
		if frame[b] > frame[peak] {
			peak = b
		}
	}
	// A4 is MIDI 69, bin 69 - 24
	assert.Equal(t, 45, peak)
	assert.InDelta(t, 0.5, frame[peak], 0.02)
	assert.InDelta(t, 440.0, res.Frequencies[peak], 0.5)
}

func TestCQTRejectsBinsAboveNyquist(t *testing.T) {
	_, err := NewCQT(8000, 512, 32.7, 84, 12)
	assert.Error(t, err)
}

func TestCQTIsDeterministic(t *testing.T) {
	cqt, err := NewCQT(testRate, 512, 32.703195662574829, 84, 12)
	require.NoError(t, err)

	signal := whiteNoise(testRate/4, 3)
	a, err := cqt.Compute(signal)
	require.NoError(t, err)
	b, err := cqt.Compute(signal)
	require.NoError(t, err)
	assert.Equal(t, a.Magnitude, b.Magnitude)
}

func TestSpectralFlatnessSeparatesNoiseFromTone(t *testing.T) {
	window := windowing.NewHann(2048, false)
	sf := NewSpectralFlatness()

	noise, err := NewSTFT().ComputeCentered(whiteNoise(testRate, 11), 2048, 512, testRate, window)
	require.NoError(t, err)
	tone, err := NewSTFT().ComputeCentered(sine(440, 1.0), 2048, 512, testRate, window)
	require.NoError(t, err)

	noiseFlatness := sf.Mean(sf.ComputeFrames(noise.Magnitude))
	toneFlatness := sf.Mean(sf.ComputeFrames(tone.Magnitude))

	assert.Greater(t, noiseFlatness, 0.5)
	assert.Less(t, noiseFlatness, 0.65)
	assert.Less(t, toneFlatness, 0.1)
}

func TestSpectralFlatnessSilentFrameIsZero(t *testing.T) {
	assert.Equal(t, 0.0, NewSpectralFlatness().Compute(make([]float64, 16)))
	assert.InDelta(t, 1.0, NewSpectralFlatness().Compute([]float64{2, 2, 2, 2}), 1e-12)
}

func TestAmplitudeToDB(t *testing.T) {
	ps := NewPowerSpectrum()
	grid := ps.AmplitudeToDB([][]float64{{1, 0.1}, {0.01, 0}}, 1e-5, 80)

	assert.False(t, grid.Silent)
	assert.InDelta(t, 0.0, grid.Values[0][0], 1e-9)
	assert.InDelta(t, -20.0, grid.Values[0][1], 1e-9)
	assert.InDelta(t, -40.0, grid.Values[1][0], 1e-9)
	assert.InDelta(t, -80.0, grid.Values[1][1], 1e-9)
	assert.InDelta(t, -35.0, grid.MeanDB, 1e-9)

	silent := ps.AmplitudeToDB([][]float64{{0, 0}}, 1e-5, 80)
	assert.True(t, silent.Silent)
	assert.Equal(t, []float64{-80, -80}, silent.Values[0])
}

func TestMFCCIdenticalFramesMatch(t *testing.T) {
	res, err := NewSTFT().ComputeCentered(sine(330, 0.5), 2048, 512, testRate, windowing.NewHann(2048, false))
	require.NoError(t, err)

	mfcc := NewMFCC(testRate, DefaultMFCCParams(testRate))
	a, err := mfcc.ComputeFrames(res.Magnitude)
	require.NoError(t, err)
	b, err := mfcc.ComputeFrames(res.Magnitude)
	require.NoError(t, err)

	require.Len(t, a, res.TimeFrames)
	assert.Len(t, a[0], 20)
	assert.Equal(t, a, b)
}

func TestMelFilterBank(t *testing.T) {
	assert.InDelta(t, 1000.0, melToHz(hzToMel(1000)), 1e-9)

	bank := melFilterBank(40, 2048, testRate, 0, testRate/2)
	require.Len(t, bank, 40)

	prevPeak := -1
	for f, filter := range bank {
		require.Len(t, filter, 1025)
		peak, sum := 0, 0.0
		for k, w := range filter {
			assert.GreaterOrEqual(t, w, 0.0)
			assert.LessOrEqual(t, w, 1.0)
			sum += w
			if w > filter[peak] {
				peak = k
			}
		}
		assert.Greater(t, sum, 0.0, "filter %d is empty", f)
		assert.GreaterOrEqual(t, peak, prevPeak)
		prevPeak = peak
	}
}
