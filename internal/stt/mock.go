package stt

import (
	"context"
	"sync"
)

// MockTranscriber is a test double for Transcriber. Callers pre-populate
// Text/Err (or TextFunc for per-call control) and inspect Calls afterward.
type MockTranscriber struct {
	mu sync.Mutex

	// Text is returned by every Transcribe call when TextFunc is nil.
	Text string

	// Err is returned by every Transcribe call.
	Err error

	// TextFunc, if set, overrides Text and is called with each pcm buffer.
	TextFunc func(pcm []byte) (string, error)

	// Calls records every pcm buffer passed to Transcribe, in order.
	Calls [][]byte
}

var _ Transcriber = (*MockTranscriber)(nil)

// Transcribe records the call and returns TextFunc's result if set,
// otherwise (Text, Err).
func (m *MockTranscriber) Transcribe(_ context.Context, pcm []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	m.Calls = append(m.Calls, cp)

	if m.TextFunc != nil {
		return m.TextFunc(pcm)
	}
	return m.Text, m.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *MockTranscriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
