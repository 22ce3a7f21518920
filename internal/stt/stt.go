// Package stt owns the single-shot speech-to-text adapter: one contiguous
// PCM utterance in, one best-effort transcript out. There is no streaming
// session here — the Session Pipeline already segments audio into complete
// utterances (see internal/vad) before handing them to this package.
package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// ErrSTT wraps engine load and decode failures. Callers (C8) treat this as a
// per-turn recoverable error rather than a fatal one.
var ErrSTT = errors.New("stt: transcription failed")

const (
	bitsPerSample = 16

	// minUtteranceMs is the shortest audio duration worth sending to the
	// engine; anything shorter is treated as silence/noise and returns an
	// empty transcript without running inference.
	minUtteranceMs = 300

	// silenceRMSThreshold is the root-mean-square energy level (in 16-bit
	// PCM units) below which an entire utterance is considered silent.
	silenceRMSThreshold = 300.0

	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultChannels   = 1
)

// Transcriber is the single-shot contract every STT backend satisfies.
type Transcriber interface {
	// Transcribe accepts a contiguous PCM buffer (16 kHz, 16-bit, mono by
	// default; see WithSampleRate/WithChannels) and returns the best-effort
	// transcript. Returns "" without error for silent or too-short audio.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code passed to whisper.cpp.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the expected PCM sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithChannels sets the expected PCM channel count. Defaults to 1 (mono).
func WithChannels(channels int) Option {
	return func(p *Provider) { p.channels = channels }
}

// Provider implements Transcriber using the whisper.cpp Go bindings (CGO).
// The model is loaded once and its whisper.cpp context is safe to create
// concurrently per call, so a single Provider may serve many sessions.
type Provider struct {
	model      whisperlib.Model
	language   string
	sampleRate int
	channels   int
}

var _ Transcriber = (*Provider)(nil)

// New loads the whisper.cpp model at modelPath and returns a ready Provider.
// The caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("stt: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stt: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:      model,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over pcm and returns the
// concatenated segment text. Silent or sub-300ms audio short-circuits to an
// empty transcript without touching the engine.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if chunkDurationMs(pcm, p.sampleRate, p.channels) < minUtteranceMs {
		return "", nil
	}
	if computeRMS(pcm) < silenceRMSThreshold {
		return "", nil
	}

	samples := pcmToFloat32Mono(pcm, p.channels)

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("%w: create context: %v", ErrSTT, err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("stt: failed to set language, using engine default", "language", p.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("%w: process audio: %v", ErrSTT, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: read segment: %v", ErrSTT, err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// ---- PCM helpers ----------------------------------------------------------

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to [-1.0, 1.0].
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// pcmToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 by
// averaging all channels per frame.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	samplesPerChannel := len(pcm) / (2 * channels)
	mono := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs returns the duration of a PCM buffer in milliseconds,
// based on the sample rate and channel count. Returns 0 for invalid inputs.
func chunkDurationMs(pcm []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(pcm) * 1000 / bytesPerSec
}
