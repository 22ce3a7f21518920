package vad

import "sync"

// MockClassifier is a test double for FrameClassifier. Callers pre-populate
// Speech/Err (or SpeechFunc for per-call control) and inspect Calls
// afterward.
type MockClassifier struct {
	mu sync.Mutex

	// Speech is returned by every IsSpeech call when SpeechFunc is nil.
	Speech bool

	// Err is returned by every IsSpeech call.
	Err error

	// SpeechFunc, if set, overrides Speech and is called with each frame.
	SpeechFunc func(frame []byte) (bool, error)

	// Calls records every frame passed to IsSpeech, in order.
	Calls [][]byte
}

var _ FrameClassifier = (*MockClassifier)(nil)

// IsSpeech records the call and returns SpeechFunc's result if set,
// otherwise (Speech, Err).
func (m *MockClassifier) IsSpeech(frame []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.Calls = append(m.Calls, cp)

	if m.SpeechFunc != nil {
		return m.SpeechFunc(frame)
	}
	return m.Speech, m.Err
}

// CallCount returns the number of IsSpeech calls. Thread-safe.
func (m *MockClassifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
