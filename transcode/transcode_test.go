package transcode

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stereoSine(frames, sampleRate int) []float64 {
	pcm := make([]float64, frames*2)
	for i := range frames {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
		pcm[2*i] = v
		pcm[2*i+1] = -v
	}
	return pcm
}

func TestWAVRoundTrip(t *testing.T) {
	for _, depth := range []int{8, 16, 24, 32} {
		path := filepath.Join(t.TempDir(), "tone.wav")
		in := NewAudioData(stereoSine(2205, 22050), 22050, 2, depth)
		require.NoError(t, WriteWAV(path, in, depth))

		out, err := ReadWAV(path)
		require.NoError(t, err, "bit depth %d", depth)
		assert.Equal(t, 22050, out.SampleRate)
		assert.Equal(t, 2, out.Channels)
		assert.Equal(t, depth, out.BitDepth)
		require.Len(t, out.PCM, len(in.PCM))

		tolerance := 2.0 / math.Pow(2, float64(depth-1))
		for i := range in.PCM {
			assert.InDelta(t, in.PCM[i], out.PCM[i], tolerance, "bit depth %d sample %d", depth, i)
		}
	}
}

func TestDecodeFilePrefersNativeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, WriteWAV(path, NewAudioData(stereoSine(1000, 44100), 44100, 2, 16), 16))

	// A broken ffmpeg path proves the native decoder served the request
	dec := NewDecoder(&DecoderConfig{FFmpegPath: "/nonexistent/ffmpeg", FFprobePath: "/nonexistent/ffprobe"})
	data, err := dec.DecodeFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1000, data.Frames())
	assert.Equal(t, "wav", data.Metadata.Format)
}

func TestDecodeFileMissing(t *testing.T) {
	_, err := NewDecoder(nil).DecodeFile(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	assert.True(t, diagnostics.IsResourceNotFound(err))
}

func TestDecodeFileFallbackReportsToolFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.mp3")
	require.NoError(t, os.WriteFile(path, []byte("not really audio"), 0o644))

	dec := NewDecoder(&DecoderConfig{FFmpegPath: "/nonexistent/ffmpeg", FFprobePath: "/nonexistent/ffprobe"})
	_, err := dec.DecodeFile(context.Background(), path)
	require.Error(t, err)
	assert.True(t, diagnostics.IsExternalToolFailure(err))
}

func TestMonoAndChannel(t *testing.T) {
	data := NewAudioData([]float64{1, 0, 0.5, 0.5, -1, 1}, 8000, 2, 16)
	assert.Equal(t, []float64{0.5, 0.5, 0}, data.Mono())
	assert.Equal(t, []float64{0, 0.5, 1}, data.Channel(1))
	assert.Nil(t, data.Channel(2))
}

func TestValidate(t *testing.T) {
	assert.True(t, errors.Is(NewAudioData(nil, 44100, 1, 16).Validate(), diagnostics.ErrInvalidAudio))
	assert.True(t, errors.Is(NewAudioData([]float64{0.1, math.NaN()}, 44100, 1, 16).Validate(), diagnostics.ErrInvalidAudio))
	assert.True(t, errors.Is(NewAudioData([]float64{0.1}, 0, 1, 16).Validate(), diagnostics.ErrInvalidAudio))
	assert.NoError(t, NewAudioData([]float64{0.1}, 44100, 1, 16).Validate())
}

func TestQuantizeClips(t *testing.T) {
	assert.Equal(t, []int{32767, -32767, 0}, Quantize([]float64{1.5, -2, math.NaN()}, 16))
	assert.Equal(t, []int{255, 1, 128}, Quantize([]float64{1, -1, 0}, 8))
}

func TestParseFFprobeOutput(t *testing.T) {
	meta, err := parseFFprobeOutput([]byte(`{"streams":[{"codec_type":"audio","codec_name":"mp3","sample_rate":"44100","channels":2,"duration":"3.5","bit_rate":"128000"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 44100, meta.SampleRate)
	assert.Equal(t, 2, meta.Channels)
	assert.Equal(t, 16, meta.BitDepth)

	_, err = parseFFprobeOutput([]byte(`{"streams":[]}`))
	assert.Error(t, err)
}

func TestBytesToFloat64(t *testing.T) {
	raw := make([]byte, 17)
	binary.LittleEndian.PutUint64(raw[0:], math.Float64bits(0.25))
	binary.LittleEndian.PutUint64(raw[8:], math.Float64bits(-1))
	assert.Equal(t, []float64{0.25, -1}, bytesToFloat64(raw))
}
