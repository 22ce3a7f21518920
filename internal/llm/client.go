package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/bridge/internal/contextbuilder"
	"github.com/MrWong99/bridge/internal/observe"
	"github.com/MrWong99/bridge/internal/store"
	"github.com/MrWong99/bridge/internal/tools"
	"github.com/MrWong99/bridge/pkg/types"
)

// ErrLLM wraps non-rate-limit provider failures. C8 treats this as a
// per-turn recoverable error.
var ErrLLM = errors.New("llm: request failed")

// deepKeywords trigger deep-model routing regardless of estimated token
// count, matched case-insensitively against the raw user text.
var deepKeywords = []string{"analyze", "correlate", "optimize", "forecast", "pattern", "why"}

const (
	// DefaultMaxToolRounds is the default tool-use loop cap per turn.
	DefaultMaxToolRounds = 5
	// DefaultHistoryMax is the default FIFO history cap.
	DefaultHistoryMax = 20
	// DefaultConcurrency is the default process-wide provider semaphore size.
	DefaultConcurrency = 3
	// deepTokenThreshold is the estimated-token floor that routes to the deep model.
	deepTokenThreshold = 1000
)

// NewSemaphore builds the process-wide semaphore gating provider calls,
// shared across every Client in the process (capacity from LLM_CONCURRENCY,
// default DefaultConcurrency).
func NewSemaphore(capacity int) *semaphore.Weighted {
	if capacity <= 0 {
		capacity = DefaultConcurrency
	}
	return semaphore.NewWeighted(int64(capacity))
}

// ModelSet names the two LLM tiers the client routes between.
type ModelSet struct {
	Fast Provider
	Deep Provider

	// FastName/DeepName are logged alongside routing decisions and turn
	// metrics; Provider implementations do not expose their own model name.
	FastName string
	DeepName string
}

// Client owns one session's conversation history and orchestrates the
// streaming chat cascade: model selection, tool-use loop, history
// trimming, and sentence-level output.
type Client struct {
	models  ModelSet
	tools   *tools.Registry
	ctxB    *contextbuilder.Builder
	store   *store.Store
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *observe.Metrics

	maxToolRounds int
	historyMax    int
	persona       persona

	mu      sync.Mutex
	history []types.Message
}

// Option configures a Client at construction.
type Option func(*Client)

// WithMaxToolRounds overrides DefaultMaxToolRounds.
func WithMaxToolRounds(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxToolRounds = n
		}
	}
}

// WithHistoryMax overrides DefaultHistoryMax.
func WithHistoryMax(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.historyMax = n
		}
	}
}

// WithPersona overrides the bundled persona/tool-policy fixture with one
// parsed from raw YAML (same schema as the embedded default). Intended for
// tests and for deployments that want a different assistant voice without
// touching code.
func WithPersona(raw []byte) Option {
	return func(c *Client) {
		p, err := loadPersona(raw)
		if err != nil {
			return
		}
		c.persona = p
	}
}

// WithMetrics attaches a metrics recorder. A nil Client.metrics is valid —
// all recording calls are nil-guarded.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a Client. sem is the process-wide provider semaphore
// (construct once per process with [NewSemaphore] and share across every
// session's Client).
func NewClient(models ModelSet, registry *tools.Registry, ctxB *contextbuilder.Builder, st *store.Store, sem *semaphore.Weighted, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		models:        models,
		tools:         registry,
		ctxB:          ctxB,
		store:         st,
		sem:           sem,
		logger:        logger,
		maxToolRounds: DefaultMaxToolRounds,
		historyMax:    DefaultHistoryMax,
		persona:       defaultPersona,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reset clears conversation history. The next Chat starts a fresh turn with
// no prior context beyond the system prompt.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// FullResponse drains Chat and returns the concatenated sentences.
func (c *Client) FullResponse(ctx context.Context, userText string) (string, error) {
	ch, err := c.Chat(ctx, userText)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for sentence := range ch {
		sb.WriteString(sentence)
	}
	return sb.String(), nil
}

// Chat is the primary entrypoint: it sends userText through the model
// selection, system-prompt assembly, streaming, and tool-use loop, and
// returns a channel of complete sentences emitted as they become available.
// The channel is always closed by the time the turn ends, including on
// error — callers should range over it and then check no error occurred by
// inspecting the returned error (set before the channel closes only on a
// hard failure that aborts the entire turn before any sentence was sent).
func (c *Client) Chat(ctx context.Context, userText string) (<-chan string, error) {
	start := time.Now()
	provider, modelName, estTokens := c.selectModel(userText)
	c.logger.Info("llm: model selected", "model", modelName, "estimated_tokens", estTokens)

	c.mu.Lock()
	c.history = append(c.history, types.Message{Role: "user", Content: userText})
	history := make([]types.Message, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()

	systemPrompt, err := c.buildSystemPrompt(ctx)
	if err != nil {
		return nil, fmt.Errorf("llm: build system prompt: %w", err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		turn := c.runTurn(ctx, provider, modelName, systemPrompt, userText, history, out)
		c.recordTurn(ctx, modelName, start, turn)
	}()
	return out, nil
}

// turnStats accumulates the metrics required per spec for one completed turn.
type turnStats struct {
	firstSentenceAt time.Duration
	toolExecTime    time.Duration
	toolRounds      int
	gotFirstText    bool
}

// selectModel applies the fast/deep routing heuristic: deep is chosen when
// the estimated token count is >= deepTokenThreshold or the text contains
// any of the fixed keyword set, case-insensitively.
func (c *Client) selectModel(userText string) (provider Provider, modelName string, estTokens int) {
	estTokens = estimateTokens(userText)
	lower := strings.ToLower(userText)
	useDeep := estTokens >= deepTokenThreshold
	if !useDeep {
		for _, kw := range deepKeywords {
			if strings.Contains(lower, kw) {
				useDeep = true
				break
			}
		}
	}
	if useDeep {
		return c.models.Deep, c.models.DeepName, estTokens
	}
	return c.models.Fast, c.models.FastName, estTokens
}

// estimateTokens is a cheap, provider-independent heuristic: ~4 characters
// per token, which is close enough for routing decisions (exact counts are
// not required).
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// buildSystemPrompt concatenates the fixed persona block, C3's current
// output, and the fixed tool-policy block.
func (c *Client) buildSystemPrompt(ctx context.Context) (string, error) {
	recent, err := c.ctxB.Build(ctx, 7)
	if err != nil {
		return "", err
	}
	if recent == "" {
		return c.persona.Persona + "\n\n" + c.persona.ToolPolicy, nil
	}
	return c.persona.Persona + "\n\n" + recent + "\n\n" + c.persona.ToolPolicy, nil
}

// runTurn drives the tool-use loop for one user turn, streaming sentences
// to out as they complete. It appends the full exchange (user message, any
// tool rounds, final assistant message) to history and trims it to
// historyMax entries.
func (c *Client) runTurn(ctx context.Context, provider Provider, modelName, systemPrompt, userText string, history []types.Message, out chan<- string) turnStats {
	stats := turnStats{}
	turnStart := time.Now()

	toolDefs := c.tools.Definitions()
	var fullResponse strings.Builder

	for round := 0; ; round++ {
		if round >= c.maxToolRounds {
			c.logger.Warn("llm: tool round cap reached", "model", modelName, "max_rounds", c.maxToolRounds)
			apology := "I wasn't able to complete that request."
			select {
			case out <- apology:
			case <-ctx.Done():
			}
			history = append(history, types.Message{Role: "assistant", Content: apology})
			fullResponse.WriteString(apology)
			break
		}

		req := CompletionRequest{
			Messages:     history,
			Tools:        toolDefs,
			SystemPrompt: systemPrompt,
		}

		var assistantText strings.Builder
		var toolCalls []types.ToolCall

		err := c.withSemaphore(ctx, func() error {
			return retryRateLimited(ctx, c.logger, func() error {
				text, calls, streamErr := c.streamRound(ctx, provider, req, &stats, turnStart, out)
				if streamErr != nil {
					return streamErr
				}
				assistantText.WriteString(text)
				toolCalls = calls
				return nil
			})
		})
		if err != nil {
			c.logger.Error("llm: round failed", "model", modelName, "round", round, "error", err)
			apology := "Sorry, I ran into a problem processing that."
			select {
			case out <- apology:
			case <-ctx.Done():
			}
			history = append(history, types.Message{Role: "assistant", Content: apology})
			fullResponse.WriteString(apology)
			break
		}

		if len(toolCalls) == 0 {
			if assistantText.Len() > 0 {
				history = append(history, types.Message{Role: "assistant", Content: assistantText.String()})
				fullResponse.WriteString(assistantText.String())
			}
			break
		}

		stats.toolRounds++
		history = append(history, types.Message{Role: "assistant", Content: assistantText.String(), ToolCalls: toolCalls})
		fullResponse.WriteString(assistantText.String())

		toolStart := time.Now()
		for _, tc := range toolCalls {
			result := c.tools.Dispatch(ctx, tc.Name, tc.Arguments)
			if c.metrics != nil {
				status := "ok"
				if strings.Contains(result, `"error"`) {
					status = "error"
				}
				c.metrics.RecordToolCall(ctx, tc.Name, status)
			}
			history = append(history, types.Message{Role: "tool", Content: result, ToolCallID: tc.ID})
		}
		stats.toolExecTime += time.Since(toolStart)
	}

	c.mu.Lock()
	c.history = trimHistory(append([]types.Message{}, history...), c.historyMax)
	c.mu.Unlock()

	if c.store != nil {
		elapsedMs := time.Since(turnStart).Milliseconds()
		if _, err := c.store.RecordConversation(ctx, "user", userText, modelName, elapsedMs); err != nil {
			c.logger.Warn("llm: record conversation failed", "error", err)
		}
		if _, err := c.store.RecordConversation(ctx, "assistant", fullResponse.String(), modelName, elapsedMs); err != nil {
			c.logger.Warn("llm: record conversation failed", "error", err)
		}
	}

	return stats
}

// streamRound opens one streaming completion round and forwards complete
// sentences to out as they arrive, returning the full assistant text and
// any tool calls the model requested.
func (c *Client) streamRound(ctx context.Context, provider Provider, req CompletionRequest, stats *turnStats, turnStart time.Time, out chan<- string) (string, []types.ToolCall, error) {
	ch, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", nil, classifyErr(err)
	}

	var full strings.Builder
	var buf strings.Builder
	var toolCalls []types.ToolCall

	for {
		select {
		case <-ctx.Done():
			return full.String(), toolCalls, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				if buf.Len() > 0 {
					sentence := buf.String()
					full.WriteString(sentence)
					emit(ctx, out, sentence, stats, turnStart)
				}
				return full.String(), toolCalls, nil
			}

			if chunk.FinishReason == "error" {
				if isRateLimitText(chunk.Text) {
					return full.String(), toolCalls, &RateLimitError{Err: errors.New(chunk.Text)}
				}
				return full.String(), toolCalls, fmt.Errorf("%w: %s", ErrLLM, chunk.Text)
			}

			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = chunk.ToolCalls
			}

			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := buf.String()[idx+1:]
				buf.Reset()
				buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
				full.WriteString(sentence)
				emit(ctx, out, sentence, stats, turnStart)
			}

			if chunk.FinishReason != "" {
				if buf.Len() > 0 {
					sentence := buf.String()
					full.WriteString(sentence)
					emit(ctx, out, sentence, stats, turnStart)
					buf.Reset()
				}
				return full.String(), toolCalls, nil
			}
		}
	}
}

// emit sends sentence to out, recording time-to-first-sentence on the very
// first emission of the turn.
func emit(ctx context.Context, out chan<- string, sentence string, stats *turnStats, turnStart time.Time) {
	if !stats.gotFirstText {
		stats.gotFirstText = true
		stats.firstSentenceAt = time.Since(turnStart)
	}
	select {
	case out <- sentence:
	case <-ctx.Done():
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace, or -1 if no boundary exists.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// isRateLimitText reports whether a provider-reported error string
// describes a rate-limit / throttling failure.
func isRateLimitText(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests")
}

// withSemaphore acquires the process-wide semaphore for the duration of fn.
func (c *Client) withSemaphore(ctx context.Context, fn func() error) error {
	if c.sem == nil {
		return fn()
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)
	return fn()
}

// trimHistory drops the oldest entries until len(history) <= max, preserving
// order.
func trimHistory(history []types.Message, max int) []types.Message {
	if len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

// recordTurn logs and (if a metrics recorder is attached) records the
// per-turn metrics required by the design: time-to-first-sentence, total
// turn duration, tool-execution time, model chosen, and tool-round count.
func (c *Client) recordTurn(ctx context.Context, modelName string, start time.Time, stats turnStats) {
	total := time.Since(start)
	c.logger.Info("llm: turn complete",
		"model", modelName,
		"time_to_first_sentence_ms", stats.firstSentenceAt.Milliseconds(),
		"total_duration_ms", total.Milliseconds(),
		"tool_exec_ms", stats.toolExecTime.Milliseconds(),
		"tool_rounds", stats.toolRounds,
	)
	if c.metrics != nil {
		c.metrics.RecordTurn(ctx, modelName, stats.firstSentenceAt, total, stats.toolExecTime, stats.toolRounds)
	}
}
