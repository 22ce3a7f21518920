package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/bridge/internal/llm"
)

// ErrProviderNotRegistered is returned by Create (and CreateFromRef) when no factory has been
// registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: llm provider not registered")

// Registry maps LLM backend names ("openai", "anthropic", "gemini",
// "ollama", ...) to constructor functions, so [ParseModelRef]'s provider
// half can be turned into a concrete [llm.Provider] without the config
// package importing every backend directly. Safe for concurrent use.
//
// Narrowed from the teacher's multi-kind provider registry (LLM, STT, TTS,
// S2S, embeddings, VAD, audio): this system's STT/TTS/VAD adapters are
// fixed local-server clients with no provider-name selection, so only the
// LLM backend is pluggable here.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(model, apiKey string) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{llm: make(map[string]func(model, apiKey string) (llm.Provider, error))}
}

// Register adds a constructor under name. A later call with the same name
// overwrites the previous registration.
func (r *Registry) Register(name string, factory func(model, apiKey string) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// Create instantiates the provider registered under name with the given
// model and API key. Returns [ErrProviderNotRegistered] if name is unknown.
func (r *Registry) Create(name, model, apiKey string) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}
	return factory(model, apiKey)
}

// CreateFromRef parses ref as a "provider:model" reference and instantiates
// the corresponding provider.
func (r *Registry) CreateFromRef(ref, apiKey string) (llm.Provider, error) {
	provider, model, err := ParseModelRef(ref)
	if err != nil {
		return nil, err
	}
	return r.Create(provider, model, apiKey)
}

// DefaultRegistry returns a Registry pre-populated with the four backends
// any-llm-go supports, each wired through [llm.NewAnyLLM]. This is what
// cmd/bridge uses at startup; tests construct an empty [NewRegistry] and
// register fakes instead.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, name := range []string{"openai", "anthropic", "gemini", "ollama"} {
		providerName := name
		r.Register(providerName, func(model, apiKey string) (llm.Provider, error) {
			return llm.NewAnyLLM(providerName, model, anyllmlib.WithAPIKey(apiKey))
		})
	}
	return r
}
