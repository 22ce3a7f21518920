// Package llm owns the streaming chat cascade against the configured LLM
// provider: model selection, system-prompt assembly, sentence-level
// streaming output, the tool-use loop, history trimming, and the
// concurrency/retry policy guarding provider access.
package llm

import (
	"context"

	"github.com/MrWong99/bridge/pkg/types"
)

// Usage holds token accounting returned by a provider after a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything a Provider needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	Messages     []types.Message
	Tools        []types.ToolDefinition
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	Text         string
	FinishReason string
	ToolCalls    []types.ToolCall
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is the abstraction over any LLM backend. Implementations must be
// safe for concurrent use and propagate context cancellation promptly.
type Provider interface {
	// StreamCompletion returns a channel emitting Chunk values as they
	// arrive. The channel is closed by the implementation when generation
	// finishes or ctx is cancelled. Errors after the stream starts surface
	// as a Chunk with FinishReason "error"; the initial error return is
	// non-nil only when the stream could not be started at all.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full response; a convenience wrapper for
	// callers that do not need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the token cost of messages. Need not be exact
	// but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}

// RateLimitError should be returned (or wrapped) by a Provider when the
// backend reports a rate-limit / throttling response, so Client's backoff
// retry can distinguish it from other transport failures.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return "llm: rate limited: " + e.Err.Error() }

func (e *RateLimitError) Unwrap() error { return e.Err }
