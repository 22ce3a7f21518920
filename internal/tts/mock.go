package tts

import (
	"context"
	"sync"
)

// MockSynthesizer is a test double for Synthesizer. Callers pre-populate
// PCM/Err (or PCMFunc for per-call control) and inspect Calls afterward.
type MockSynthesizer struct {
	mu sync.Mutex

	// PCM is returned by every Synthesize call when PCMFunc is nil.
	PCM []byte

	// Err is returned by every Synthesize call.
	Err error

	// PCMFunc, if set, overrides PCM and is called with each input text.
	PCMFunc func(text string) ([]byte, error)

	// Calls records every text passed to Synthesize, in order.
	Calls []string
}

var _ Synthesizer = (*MockSynthesizer)(nil)

// Synthesize records the call and returns PCMFunc's result if set,
// otherwise (PCM, Err). Empty input still records the call but returns
// empty output without consulting PCM/PCMFunc, matching Provider.
func (m *MockSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, text)

	if text == "" {
		return []byte{}, nil
	}
	if m.PCMFunc != nil {
		return m.PCMFunc(text)
	}
	return m.PCM, m.Err
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (m *MockSynthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
