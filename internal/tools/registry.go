// Package tools implements the bridge's fixed, in-process tool catalogue:
// the nine functions the LLM client may call during the reasoning phase of
// a turn (logging health/expense data, querying summaries, computing a
// savings goal, and recording free-text insights).
//
// There is no remote tool transport here — every tool is a Go function
// wired directly against the durable store. Dispatch never returns a Go
// error; failures are encoded as a JSON error envelope so the calling LLM
// turn can see them and react, matching how a tool-call result is always
// fed back into the conversation as a message.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/bridge/pkg/types"
)

// ErrValidation is wrapped by handler errors that stem from caller-supplied
// arguments being out of range or malformed, as opposed to a downstream
// storage failure.
var ErrValidation = errors.New("invalid arguments")

// Handler implements a single tool. args is the raw JSON arguments object
// the LLM supplied (possibly "{}"). The returned value is marshaled to JSON
// as the tool result on success.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool pairs a tool's LLM-facing definition with its implementation.
type Tool struct {
	Definition types.ToolDefinition
	Handler    Handler
}

// Registry holds the fixed set of tools available to the LLM client. The
// zero value is not usable; construct with [NewRegistry].
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry from the given tools. Definition.Name must
// be unique; a later duplicate overwrites an earlier one's handler but
// keeps its original position in Definitions().
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, exists := r.tools[t.Definition.Name]; !exists {
			r.order = append(r.order, t.Definition.Name)
		}
		r.tools[t.Definition.Name] = t
	}
	return r
}

// Definitions returns the tool definitions in registration order, ready to
// hand to an LLM completion request.
func (r *Registry) Definitions() []types.ToolDefinition {
	defs := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Dispatch invokes the named tool with argsJSON and returns its JSON result
// or a JSON error envelope. It never panics and never returns a Go error:
// every failure mode is observable to the caller as the string itself.
func (r *Registry) Dispatch(ctx context.Context, name string, argsJSON string) string {
	tool, ok := r.tools[name]
	if !ok {
		return errorEnvelope(fmt.Sprintf("Unknown tool: %s", name))
	}

	if argsJSON == "" {
		argsJSON = "{}"
	}

	result, err := tool.Handler(ctx, json.RawMessage(argsJSON))
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return errorEnvelope(fmt.Sprintf("Invalid arguments for %s: %s", name, unwrapValidation(err)))
		}
		return executionErrorEnvelope(name, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return executionErrorEnvelope(name, err)
	}
	return string(data)
}

// unwrapValidation strips the "invalid arguments: " prefix added by
// validationErrorf to surface just the caller-facing detail, e.g.
// "amount must be > 0".
func unwrapValidation(err error) string {
	return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
}

func errorEnvelope(message string) string {
	data, _ := json.Marshal(map[string]string{"error": message})
	return string(data)
}

func executionErrorEnvelope(function string, err error) string {
	data, _ := json.Marshal(map[string]string{
		"error":    fmt.Sprintf("Tool execution failed. %s", err.Error()),
		"function": function,
	})
	return string(data)
}

// validationErrorf builds an error satisfying errors.Is(err, ErrValidation)
// with detail as the caller-facing message.
func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
