package synth

import (
	"math"

	"github.com/RyanBlaney/sonido-scribe/transcode"
)

// PostProcessor applies the fixed mixing chain to a render: stereo spread of
// mono input, a hard-knee 2:1 compressor and requantization.
type PostProcessor struct {
	Delay     float64 `json:"delay"`     // seconds, right channel
	Threshold float64 `json:"threshold"` // linear, on [-1, 1]
	Ratio     float64 `json:"ratio"`
}

// NewPostProcessor returns the default chain: 2 ms, 0.8, 2:1
func NewPostProcessor() *PostProcessor {
	return &PostProcessor{Delay: 0.002, Threshold: 0.8, Ratio: 2.0}
}

// DelaySamples is the right-channel delay at sampleRate
func (p *PostProcessor) DelaySamples(sampleRate int) int {
	return int(math.Round(float64(sampleRate) * p.Delay))
}

// StereoSpread duplicates mono into interleaved stereo with the right
// channel delayed and zero-filled at the head
func (p *PostProcessor) StereoSpread(mono []float64, sampleRate int) []float64 {
	delay := p.DelaySamples(sampleRate)
	out := make([]float64, 2*len(mono))
	for i, v := range mono {
		out[2*i] = v
		if i >= delay {
			out[2*i+1] = mono[i-delay]
		}
	}
	return out
}

// Compress reduces the part of every sample above the threshold by the
// ratio, preserving sign. Samples at or below the threshold pass unchanged.
func (p *PostProcessor) Compress(samples []float64) []float64 {
	out := make([]float64, len(samples))
	for i, x := range samples {
		a := math.Abs(x)
		if a > p.Threshold {
			a = p.Threshold + (a-p.Threshold)/p.Ratio
			x = math.Copysign(a, x)
		}
		out[i] = x
	}
	return out
}

// Requantize snaps samples to the grid of a signed integer format,
// clipping to full scale
func (p *PostProcessor) Requantize(samples []float64, bitDepth int) []float64 {
	full := math.Pow(2, float64(bitDepth-1)) - 1
	q := transcode.Quantize(samples, bitDepth)
	out := make([]float64, len(q))
	for i, v := range q {
		if bitDepth == 8 {
			v -= 128
		}
		out[i] = float64(v) / full
	}
	return out
}

// Process runs the chain on a copy of data. Mono becomes stereo; other
// layouts keep their channels.
func (p *PostProcessor) Process(data *transcode.AudioData, bitDepth int) *transcode.AudioData {
	if bitDepth <= 0 {
		bitDepth = 16
	}

	pcm := data.PCM
	channels := data.Channels
	if channels == 1 {
		pcm = p.StereoSpread(pcm, data.SampleRate)
		channels = 2
	}

	pcm = p.Requantize(p.Compress(pcm), bitDepth)

	out := transcode.NewAudioData(pcm, data.SampleRate, channels, bitDepth)
	out.Source = data.Source
	return out
}
