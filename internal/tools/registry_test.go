package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/MrWong99/bridge/pkg/types"
)

func TestDispatch_UnknownTool(t *testing.T) {
	r := NewRegistry()
	got := r.Dispatch(context.Background(), "does_not_exist", "{}")

	var env map[string]string
	if err := json.Unmarshal([]byte(got), &env); err != nil {
		t.Fatalf("dispatch result is not JSON: %v", err)
	}
	if want := "Unknown tool: does_not_exist"; env["error"] != want {
		t.Fatalf("error = %q, want %q", env["error"], want)
	}
}

func TestDispatch_ValidationError(t *testing.T) {
	r := NewRegistry(Tool{
		Definition: types.ToolDefinition{Name: "echo"},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
			return nil, validationErrorf("bad input")
		},
	})

	got := r.Dispatch(context.Background(), "echo", "{}")
	var env map[string]string
	if err := json.Unmarshal([]byte(got), &env); err != nil {
		t.Fatalf("dispatch result is not JSON: %v", err)
	}
	if want := "Invalid arguments for echo: bad input"; env["error"] != want {
		t.Fatalf("error = %q, want %q", env["error"], want)
	}
}

func TestDispatch_ExecutionError(t *testing.T) {
	r := NewRegistry(Tool{
		Definition: types.ToolDefinition{Name: "boom"},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
			return nil, errBoom
		},
	})

	got := r.Dispatch(context.Background(), "boom", "{}")
	var env map[string]string
	if err := json.Unmarshal([]byte(got), &env); err != nil {
		t.Fatalf("dispatch result is not JSON: %v", err)
	}
	if env["function"] != "boom" {
		t.Fatalf("function = %q, want boom", env["function"])
	}
	if want := "Tool execution failed. boom"; env["error"] != want {
		t.Fatalf("error = %q, want %q", env["error"], want)
	}
}

func TestDispatch_Success(t *testing.T) {
	r := NewRegistry(Tool{
		Definition: types.ToolDefinition{Name: "echo"},
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			return map[string]string{"got": string(args)}, nil
		},
	})

	got := r.Dispatch(context.Background(), "echo", `{"x":1}`)
	var out map[string]string
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("dispatch result is not JSON: %v", err)
	}
	if out["got"] != `{"x":1}` {
		t.Fatalf("got = %q", out["got"])
	}
}

func TestDefinitions_PreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry(
		Tool{Definition: types.ToolDefinition{Name: "a"}, Handler: noop},
		Tool{Definition: types.ToolDefinition{Name: "b"}, Handler: noop},
	)
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "a" || defs[1].Name != "b" {
		t.Fatalf("defs = %+v, want [a b]", defs)
	}
}

func noop(_ context.Context, _ json.RawMessage) (any, error) { return nil, nil }

var errBoom = boomError{}

type boomError struct{}

func (boomError) Error() string { return "boom" }
