package llm

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed persona.yaml
var defaultPersonaYAML []byte

// persona holds the fixed assistant voice and tool-use policy injected into
// every system prompt. It is loaded once from the bundled YAML fixture;
// callers that want a different voice (tests, a future multi-persona
// deployment) can supply their own via [WithPersona].
type persona struct {
	Persona    string `yaml:"persona"`
	ToolPolicy string `yaml:"tool_policy"`
}

// loadPersona parses raw as a persona YAML document.
func loadPersona(raw []byte) (persona, error) {
	var p persona
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return persona{}, fmt.Errorf("llm: parse persona: %w", err)
	}
	return p, nil
}

// defaultPersona is the bundled persona, parsed once at package init. A
// malformed embedded fixture is a build-time bug, not a runtime condition,
// so it panics rather than threading an error through every Client.
var defaultPersona = func() persona {
	p, err := loadPersona(defaultPersonaYAML)
	if err != nil {
		panic(err)
	}
	return p
}()
