package llm

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/bridge/internal/contextbuilder"
	"github.com/MrWong99/bridge/internal/store"
	"github.com/MrWong99/bridge/internal/tools"
	"github.com/MrWong99/bridge/pkg/types"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := tools.NewRegistry()
	ctxB := contextbuilder.New(st, nil)
	return NewClient(ModelSet{}, registry, ctxB, st, nil, nil, opts...)
}

func TestBuildSystemPrompt_NoRecentActivityOmitsBlankSection(t *testing.T) {
	c := newTestClient(t)

	prompt, err := c.buildSystemPrompt(context.Background())
	if err != nil {
		t.Fatalf("buildSystemPrompt() error = %v", err)
	}
	if prompt != defaultPersona.Persona+"\n\n"+defaultPersona.ToolPolicy {
		t.Errorf("prompt = %q, want persona+toolPolicy with no middle section", prompt)
	}
}

func TestBuildSystemPrompt_IncludesRecentActivityWhenPresent(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.store.LogHealth(context.Background(), "steps", 8000, "", time.Now()); err != nil {
		t.Fatalf("LogHealth() error = %v", err)
	}

	prompt, err := c.buildSystemPrompt(context.Background())
	if err != nil {
		t.Fatalf("buildSystemPrompt() error = %v", err)
	}
	if prompt == defaultPersona.Persona+"\n\n"+defaultPersona.ToolPolicy {
		t.Error("prompt equals the no-activity form; want recent-activity text folded in")
	}
}

func TestWithPersona_OverridesDefaultFixture(t *testing.T) {
	raw := []byte("persona: \"Custom assistant voice.\"\ntool_policy: \"Custom tool policy.\"\n")
	c := newTestClient(t, WithPersona(raw))

	prompt, err := c.buildSystemPrompt(context.Background())
	if err != nil {
		t.Fatalf("buildSystemPrompt() error = %v", err)
	}
	want := "Custom assistant voice.\n\nCustom tool policy."
	if prompt != want {
		t.Errorf("prompt = %q, want %q", prompt, want)
	}
}

func TestWithPersona_InvalidYAMLKeepsDefault(t *testing.T) {
	c := newTestClient(t, WithPersona([]byte("not: [valid")))

	if c.persona != defaultPersona {
		t.Error("persona changed despite malformed override YAML")
	}
}

func TestWithMaxToolRounds_OverridesDefault(t *testing.T) {
	c := newTestClient(t, WithMaxToolRounds(2))
	if c.maxToolRounds != 2 {
		t.Errorf("maxToolRounds = %d, want 2", c.maxToolRounds)
	}

	c = newTestClient(t, WithMaxToolRounds(0))
	if c.maxToolRounds != DefaultMaxToolRounds {
		t.Errorf("maxToolRounds = %d, want default %d for non-positive override", c.maxToolRounds, DefaultMaxToolRounds)
	}
}

func TestWithHistoryMax_OverridesDefault(t *testing.T) {
	c := newTestClient(t, WithHistoryMax(5))
	if c.historyMax != 5 {
		t.Errorf("historyMax = %d, want 5", c.historyMax)
	}
}

func TestSelectModel_RoutesOnKeyword(t *testing.T) {
	c := newTestClient(t)
	c.models = ModelSet{Fast: nil, Deep: nil, FastName: "fast", DeepName: "deep"}

	_, name, _ := c.selectModel("why did my sleep drop this week")
	if name != "deep" {
		t.Errorf("model = %q, want deep for keyword match", name)
	}

	_, name, _ = c.selectModel("log my steps")
	if name != "fast" {
		t.Errorf("model = %q, want fast for plain text", name)
	}
}

func TestTrimHistory_KeepsMostRecent(t *testing.T) {
	history := []types.Message{
		{Role: "user", Content: "1"},
		{Role: "assistant", Content: "2"},
		{Role: "user", Content: "3"},
		{Role: "assistant", Content: "4"},
		{Role: "user", Content: "5"},
	}

	trimmed := trimHistory(history, 2)
	if len(trimmed) != 2 {
		t.Fatalf("len(trimmed) = %d, want 2", len(trimmed))
	}
	if trimmed[0].Content != "4" || trimmed[1].Content != "5" {
		t.Errorf("trimmed = %+v, want the last two entries", trimmed)
	}

	untouched := trimHistory(history, 10)
	if len(untouched) != len(history) {
		t.Errorf("len(untouched) = %d, want %d when under max", len(untouched), len(history))
	}
}

func TestFirstSentenceBoundary_FindsTerminatorFollowedByWhitespace(t *testing.T) {
	if idx := firstSentenceBoundary("Hello world. Next"); idx != 11 {
		t.Errorf("idx = %d, want 11", idx)
	}
	if idx := firstSentenceBoundary("no boundary here"); idx != -1 {
		t.Errorf("idx = %d, want -1", idx)
	}
}

func TestIsRateLimitText_MatchesKnownPhrases(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Rate limit exceeded", true},
		{"HTTP 429 received", true},
		{"too many requests, slow down", true},
		{"unrelated failure", false},
	}
	for _, tc := range cases {
		if got := isRateLimitText(tc.text); got != tc.want {
			t.Errorf("isRateLimitText(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
