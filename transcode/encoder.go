package transcode

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Quantize converts [-1, 1] samples to signed integers at the given bit depth.
// Out-of-range input is clipped. 8-bit output is offset to unsigned.
func Quantize(samples []float64, bitDepth int) []int {
	full := math.Pow(2, float64(bitDepth-1)) - 1
	out := make([]int, len(samples))
	for i, s := range samples {
		if math.IsNaN(s) {
			s = 0
		}
		s = math.Max(-1, math.Min(1, s))
		v := int(math.Round(s * full))
		if bitDepth == 8 {
			v += 128
		}
		out[i] = v
	}
	return out
}

// EncodeWAV writes interleaved PCM to w as integer WAV
func EncodeWAV(w io.WriteSeeker, data *AudioData, bitDepth int) error {
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
	if data.Channels <= 0 || data.SampleRate <= 0 {
		return fmt.Errorf("invalid audio layout: %d channels at %d Hz", data.Channels, data.SampleRate)
	}

	enc := wav.NewEncoder(w, data.SampleRate, bitDepth, data.Channels, wavFormatPCM)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: data.Channels,
			SampleRate:  data.SampleRate,
		},
		Data:           Quantize(data.PCM, bitDepth),
		SourceBitDepth: bitDepth,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav frames: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}

// WriteWAV writes audio to path through a temp file and rename
func WriteWAV(path string, data *AudioData, bitDepth int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if err := EncodeWAV(f, data, bitDepth); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadWAV decodes an integer PCM WAV file without the ffmpeg fallback
func ReadWAV(path string) (*AudioData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return NewDecoder(nil).DecodeWAV(f, path)
}
