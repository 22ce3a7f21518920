// Package vad owns per-session utterance segmentation: it accumulates
// short PCM chunks from a live microphone stream and decides when the
// caller has finished speaking, so the Session Pipeline knows when to hand
// a complete utterance to the STT adapter instead of a partial one.
package vad

import (
	"encoding/binary"
	"math"
	"sync"
)

const (
	defaultSilenceMs       = 500
	defaultMaxRecordingMs  = 10000
	defaultRMSThreshold    = 300.0
	bytesPerSampleMono16   = 2
	defaultSampleRateHz    = 16000
	defaultChannelCount    = 1
)

// FrameClassifier classifies a single short PCM frame as speech or silence.
// Implementations must not block. A Segmenter calls its classifier while
// holding its own mutex, so one classifier serves one Segmenter's calls
// sequentially.
type FrameClassifier interface {
	// IsSpeech reports whether frame contains speech energy.
	IsSpeech(frame []byte) (bool, error)
}

// RMSClassifier is a FrameClassifier that flags a frame as speech when its
// root-mean-square energy crosses Threshold. It is the only non-test
// FrameClassifier in this package; no neural VAD model is supported.
type RMSClassifier struct {
	// Threshold is the RMS energy level (in 16-bit PCM units) above which a
	// frame is classified as speech. Defaults to 300 when zero.
	Threshold float64
}

var _ FrameClassifier = (*RMSClassifier)(nil)

// IsSpeech reports whether frame's RMS energy is at or above Threshold.
func (c *RMSClassifier) IsSpeech(frame []byte) (bool, error) {
	threshold := c.Threshold
	if threshold == 0 {
		threshold = defaultRMSThreshold
	}
	return computeRMS(frame) >= threshold, nil
}

// Config configures a Segmenter.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. Defaults to 16000.
	SampleRate int

	// Channels is the PCM channel count. Defaults to 1 (mono).
	Channels int

	// SilenceMs is the trailing-silence duration that closes an utterance.
	// Defaults to 500.
	SilenceMs int

	// MaxRecordingMs is the hard upper bound on a single utterance's
	// duration; reaching it closes the utterance regardless of trailing
	// silence. Defaults to 10000 (10s).
	MaxRecordingMs int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRateHz
	}
	if c.Channels <= 0 {
		c.Channels = defaultChannelCount
	}
	if c.SilenceMs <= 0 {
		c.SilenceMs = defaultSilenceMs
	}
	if c.MaxRecordingMs <= 0 {
		c.MaxRecordingMs = defaultMaxRecordingMs
	}
	return c
}

// Segmenter accumulates PCM chunks for a single audio stream and reports
// when a complete utterance is ready. It is stateful and owned by exactly
// one session; create one Segmenter per connection.
type Segmenter struct {
	mu sync.Mutex

	classifier FrameClassifier
	cfg        Config

	buf               []byte
	trailingSilenceMs int
	totalMs           int
	hasSpeech         bool
}

// New creates a Segmenter backed by classifier. A zero Config applies the
// documented defaults.
func New(classifier FrameClassifier, cfg Config) *Segmenter {
	return &Segmenter{
		classifier: classifier,
		cfg:        cfg.withDefaults(),
	}
}

// ProcessChunk feeds a ~10-200ms PCM chunk into the segmenter. It returns
// complete=true exactly when the rolling trailing silence crosses
// cfg.SilenceMs, or when the accumulated utterance reaches
// cfg.MaxRecordingMs; in either case completed holds the full buffered
// utterance (possibly empty, if silence closed the utterance before any
// speech arrived) and the segmenter resets itself for the next one. While
// an utterance is still open, completed is nil.
func (s *Segmenter) ProcessChunk(chunk []byte) (complete bool, completed []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(chunk) == 0 {
		return false, nil
	}

	chunkMs := chunkDurationMs(chunk, s.cfg.SampleRate, s.cfg.Channels)
	isSpeech, err := s.classifier.IsSpeech(chunk)
	if err != nil {
		isSpeech = false
	}

	s.buf = append(s.buf, chunk...)
	s.totalMs += chunkMs

	if isSpeech {
		s.hasSpeech = true
		s.trailingSilenceMs = 0
	} else {
		s.trailingSilenceMs += chunkMs
	}

	closedBySilence := s.trailingSilenceMs >= s.cfg.SilenceMs
	closedByDuration := s.totalMs >= s.cfg.MaxRecordingMs

	if closedBySilence || closedByDuration {
		completed = s.buf
		s.resetLocked()
		return true, completed
	}
	return false, nil
}

// ForceComplete closes the current utterance immediately regardless of
// trailing silence, returning whatever audio has been buffered so far (nil
// if none). Use this when a client signals end_of_speech explicitly instead
// of waiting for silence to accumulate.
func (s *Segmenter) ForceComplete() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		s.resetLocked()
		return nil
	}
	completed := s.buf
	s.resetLocked()
	return completed
}

// Reset discards any buffered audio without emitting it. Use this when a
// client sends an explicit reset control message.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Segmenter) resetLocked() {
	s.buf = nil
	s.trailingSilenceMs = 0
	s.totalMs = 0
	s.hasSpeech = false
}

// ---- PCM helpers ------------------------------------------------------

// computeRMS returns the root-mean-square energy of 16-bit signed
// little-endian mono PCM.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / bytesPerSampleMono16
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

// chunkDurationMs returns a PCM buffer's duration in milliseconds. Returns
// 0 for invalid inputs.
func chunkDurationMs(pcm []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * bytesPerSampleMono16
	return len(pcm) * 1000 / bytesPerSec
}
