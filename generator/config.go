package generator

import (
	"fmt"
	"os"

	"github.com/mykhaliev/agent-eval/model"
	"gopkg.in/yaml.v3"
)

// GeneratorConfig is the top-level structure for a generator config file.
// It mirrors EvalConfig but omits Cases and adds a Generator section.
type GeneratorConfig struct {
	Providers []model.Provider    `yaml:"providers"`
	Servers   []model.Server      `yaml:"servers"`
	Agents    []model.AgentConfig `yaml:"agents"`
	Variables map[string]string   `yaml:"variables,omitempty"`
	Settings  model.Settings      `yaml:"settings"`
	Generator GeneratorSettings   `yaml:"generator"`
}

// GeneratorSettings controls the case generation behaviour.
type GeneratorSettings struct {
	Provider         string   `yaml:"provider"`           // LLM to use for generation (defaults to first agent's provider)
	CaseCount        int      `yaml:"case_count"`         // Number of cases to generate (default 5)
	Complexity       string   `yaml:"complexity"`         // simple | medium | complex (default "medium")
	IncludeEdgeCases bool     `yaml:"include_edge_cases"` // Whether to include edge case scenarios (default false)
	MaxTurnsPerCase  int      `yaml:"max_turns_per_case"` // Max conversation turns per case (default 4)
	Tools            []string `yaml:"tools,omitempty"`    // Allowlist of tool names; empty means all tools
}

func (s *GeneratorSettings) applyDefaults() {
	if s.CaseCount <= 0 {
		s.CaseCount = 5
	}
	if s.Complexity == "" {
		s.Complexity = "medium"
	}
	if s.MaxTurnsPerCase <= 0 {
		s.MaxTurnsPerCase = 4
	}
}

// ParseGeneratorConfig reads and unmarshals a generator config YAML file,
// applying defaults for any omitted generator settings.
func ParseGeneratorConfig(path string) (*GeneratorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read generator config %q: %w", path, err)
	}

	var cfg GeneratorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse generator config %q: %w", path, err)
	}

	cfg.Generator.applyDefaults()

	// Default generator provider to the first agent's provider when not set.
	if cfg.Generator.Provider == "" && len(cfg.Agents) > 0 {
		cfg.Generator.Provider = cfg.Agents[0].Provider
	}

	return &cfg, nil
}
