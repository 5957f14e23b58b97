package transcode

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/go-audio/wav"
)

// WAVE_FORMAT_PCM
const wavFormatPCM = 1

// AudioData represents decoded audio data
type AudioData struct {
	PCM        []float64      `json:"-"` // Interleaved samples in [-1, 1]
	SampleRate int            `json:"sample_rate"`
	Channels   int            `json:"channels"`
	BitDepth   int            `json:"bit_depth"`
	Duration   time.Duration  `json:"duration"`
	Source     string         `json:"source,omitempty"`
	Metadata   *AudioMetadata `json:"metadata,omitempty"`
}

// AudioMetadata holds detected audio properties from FFprobe
type AudioMetadata struct {
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration"`
	Bitrate    int     `json:"bitrate"`
	BitDepth   int     `json:"bit_depth"`
	Format     string  `json:"format"`
}

// Frames returns the number of sample frames
func (a *AudioData) Frames() int {
	if a.Channels <= 0 {
		return 0
	}
	return len(a.PCM) / a.Channels
}

// Mono averages the channels into a single signal
func (a *AudioData) Mono() []float64 {
	if a.Channels <= 1 {
		out := make([]float64, len(a.PCM))
		copy(out, a.PCM)
		return out
	}

	frames := a.Frames()
	out := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range a.Channels {
			sum += a.PCM[i*a.Channels+c]
		}
		out[i] = sum / float64(a.Channels)
	}
	return out
}

// Channel extracts a single channel
func (a *AudioData) Channel(c int) []float64 {
	if c < 0 || c >= a.Channels {
		return nil
	}
	frames := a.Frames()
	out := make([]float64, frames)
	for i := range frames {
		out[i] = a.PCM[i*a.Channels+c]
	}
	return out
}

// Validate rejects waveforms that cannot be analyzed
func (a *AudioData) Validate() error {
	if a == nil {
		return diagnostics.NewInvalidAudio("", "no audio data")
	}
	if a.SampleRate <= 0 {
		return diagnostics.NewInvalidAudio(a.Source, "sample rate must be positive, got %d", a.SampleRate)
	}
	if a.Channels <= 0 {
		return diagnostics.NewInvalidAudio(a.Source, "channel count must be positive, got %d", a.Channels)
	}
	if a.Frames() == 0 {
		return diagnostics.NewInvalidAudio(a.Source, "empty waveform")
	}
	for i, v := range a.PCM {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return diagnostics.NewInvalidAudio(a.Source, "non-finite sample at index %d", i)
		}
	}
	return nil
}

// NewAudioData wraps interleaved samples, computing the duration
func NewAudioData(pcm []float64, sampleRate, channels, bitDepth int) *AudioData {
	data := &AudioData{
		PCM:        pcm,
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
	}
	if sampleRate > 0 && channels > 0 {
		data.Duration = time.Duration(data.Frames()) * time.Second / time.Duration(sampleRate)
	}
	return data
}

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	FFmpegPath  string        `json:"ffmpeg_path"`  // Path to ffmpeg binary
	FFprobePath string        `json:"ffprobe_path"` // Path to ffprobe binary
	Timeout     time.Duration `json:"timeout"`      // Timeout for ffmpeg operations
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Timeout:     60 * time.Second,
	}
}

// Decoder reads integer PCM WAV natively and hands everything else to ffmpeg
type Decoder struct {
	config *DecoderConfig
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{config: config}
}

// DecodeFile decodes an audio file at its native rate and channel layout
func (d *Decoder) DecodeFile(ctx context.Context, filename string) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeFile",
		"filename":  filename,
	})

	logger.Debug("Starting audio file decode")

	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &diagnostics.ResourceNotFoundError{Kind: "audio", Path: filename}
		}
		return nil, &diagnostics.InvalidAudioError{Source: filename, Reason: "unreadable file", Err: err}
	}
	defer f.Close()

	data, err := d.DecodeWAV(f, filename)
	if err == nil {
		logger.Debug("Decoded WAV natively", logging.Fields{
			"sample_rate": data.SampleRate,
			"channels":    data.Channels,
			"bit_depth":   data.BitDepth,
			"duration":    data.Duration.Seconds(),
		})
		return data, nil
	}

	logger.Debug("Native WAV decode unavailable, falling back to ffmpeg", logging.Fields{
		"reason": err.Error(),
	})

	metadata, err := d.ProbeFile(ctx, filename)
	if err != nil {
		logger.Error(err, "Failed to probe audio file")
		return nil, err
	}

	logger.Debug("Audio metadata detected", logging.Fields{
		"input_sample_rate": metadata.SampleRate,
		"input_channels":    metadata.Channels,
		"input_codec":       metadata.Codec,
		"input_duration":    metadata.Duration,
	})

	return d.decodeFileWithFFmpeg(ctx, filename, metadata)
}

// DecodeWAV decodes integer PCM WAV from a reader
func (d *Decoder) DecodeWAV(r io.ReadSeeker, source string) (*AudioData, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, diagnostics.NewInvalidAudio(source, "not a valid wav file")
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, diagnostics.NewInvalidAudio(source, "unsupported wav format %d", dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &diagnostics.InvalidAudioError{Source: source, Reason: "failed to read PCM", Err: err}
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, diagnostics.NewInvalidAudio(source, "invalid wav buffer")
	}

	bitDepth := buf.SourceBitDepth
	pcm := make([]float64, len(buf.Data))
	if bitDepth == 8 {
		// 8-bit wav is unsigned
		for i, v := range buf.Data {
			pcm[i] = float64(v-128) / 128.0
		}
	} else {
		scale := math.Pow(2, float64(bitDepth-1))
		for i, v := range buf.Data {
			pcm[i] = float64(v) / scale
		}
	}

	data := NewAudioData(pcm, buf.Format.SampleRate, buf.Format.NumChannels, bitDepth)
	data.Source = source
	data.Metadata = &AudioMetadata{
		SampleRate: data.SampleRate,
		Channels:   data.Channels,
		Codec:      fmt.Sprintf("pcm_s%dle", bitDepth),
		Duration:   data.Duration.Seconds(),
		BitDepth:   bitDepth,
		Format:     "wav",
	}

	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}

// ProbeFile uses ffprobe to get audio information from a file
func (d *Decoder) ProbeFile(ctx context.Context, filename string) (*AudioMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0",
		filename,
	}

	probeCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	output, err := exec.CommandContext(probeCtx, d.config.FFprobePath, args...).Output()
	if err != nil {
		return nil, toolFailure("ffprobe", err)
	}

	metadata, err := parseFFprobeOutput(output)
	if err != nil {
		return nil, &diagnostics.InvalidAudioError{Source: filename, Reason: "unrecognized audio", Err: err}
	}
	return metadata, nil
}

// parseFFprobeOutput parses ffprobe JSON to extract audio metadata
func parseFFprobeOutput(jsonData []byte) (*AudioMetadata, error) {
	var probe struct {
		Streams []struct {
			CodecType        string `json:"codec_type"`
			CodecName        string `json:"codec_name"`
			SampleRate       string `json:"sample_rate"`
			Channels         int    `json:"channels"`
			Duration         string `json:"duration"`
			BitRate          string `json:"bit_rate"`
			BitsPerSample    int    `json:"bits_per_sample"`
			BitsPerRawSample string `json:"bits_per_raw_sample"`
			CodecLongName    string `json:"codec_long_name"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found")
	}

	stream := probe.Streams[0]
	if stream.CodecType != "audio" {
		return nil, fmt.Errorf("stream is not audio type: %s", stream.CodecType)
	}

	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if err != nil || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %q", stream.SampleRate)
	}

	if stream.Channels <= 0 || stream.Channels > 8 {
		return nil, fmt.Errorf("invalid channel count: %d", stream.Channels)
	}

	duration, _ := strconv.ParseFloat(stream.Duration, 64)
	bitrate, _ := strconv.Atoi(stream.BitRate)

	// Lossy codecs report 0; the renderer then requantizes to 16 bits
	bitDepth := stream.BitsPerSample
	if bitDepth == 0 {
		bitDepth, _ = strconv.Atoi(stream.BitsPerRawSample)
	}
	if bitDepth == 0 || bitDepth > 32 {
		bitDepth = 16
	}

	return &AudioMetadata{
		SampleRate: sampleRate,
		Channels:   stream.Channels,
		Codec:      stream.CodecName,
		Duration:   duration,
		Bitrate:    bitrate,
		BitDepth:   bitDepth,
		Format:     stream.CodecLongName,
	}, nil
}

// decodeFileWithFFmpeg decodes to raw float64 at the probed rate and layout
func (d *Decoder) decodeFileWithFFmpeg(ctx context.Context, filename string, metadata *AudioMetadata) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "decodeFileWithFFmpeg",
		"filename":  filename,
	})

	args := []string{
		"-v", "error",
		"-i", filename,
		"-f", "f64le", // Output raw float64 little-endian
		"-acodec", "pcm_f64le",
		"-ar", strconv.Itoa(metadata.SampleRate),
		"-ac", strconv.Itoa(metadata.Channels),
		"pipe:1",
	}

	decodeCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})

	output, err := exec.CommandContext(decodeCtx, d.config.FFmpegPath, args...).Output()
	if err != nil {
		failure := toolFailure("ffmpeg", err)
		logger.Error(failure, "Ffmpeg decode failed")
		return nil, failure
	}

	data := NewAudioData(bytesToFloat64(output), metadata.SampleRate, metadata.Channels, metadata.BitDepth)
	data.Source = filename
	data.Metadata = metadata

	if err := data.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Ffmpeg decode completed", logging.Fields{
		"samples":  len(data.PCM),
		"duration": data.Duration.Seconds(),
	})

	return data, nil
}

func (d *Decoder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.config.Timeout > 0 {
		return context.WithTimeout(ctx, d.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// toolFailure converts an exec error into the shared taxonomy
func toolFailure(tool string, err error) error {
	failure := &diagnostics.ExternalToolFailure{Tool: tool, Err: err}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		failure.Stderr = strings.TrimSpace(string(exitError.Stderr))
	}
	return failure
}

// bytesToFloat64 converts raw float64 bytes to []float64
func bytesToFloat64(data []byte) []float64 {
	if len(data)%8 != 0 {
		data = data[:len(data)-(len(data)%8)]
	}

	if len(data) == 0 {
		return nil
	}

	samples := make([]float64, len(data)/8)
	for i := range samples {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		samples[i] = math.Float64frombits(bits)
	}

	return samples
}
