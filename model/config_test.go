package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalEval = `
providers:
  - name: gpt
    type: OPENAI
    token: "sk-test"
    model: gpt-4o

agents:
  - name: helper
    provider: gpt
    system_prompt: "You help."

judge:
  provider: gpt

cases:
  - id: greet
    agent: helper
    input: "say hello"
    criteria:
      - id: polite
        description: The reply is polite
`

func TestParseEvalConfigFromString_Minimal(t *testing.T) {
	cfg, err := ParseEvalConfigFromString(minimalEval)
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, ProviderOpenAI, cfg.Providers[0].Type)
	require.Len(t, cfg.Cases, 1)

	c := cfg.Cases[0]
	assert.Equal(t, "greet", c.ID)
	assert.Equal(t, "helper", c.Agent)
	assert.Equal(t, DefaultMaxTurns, c.MaxTurns, "validation normalizes defaults at parse time")
	assert.Equal(t, 1.0, c.Criteria[0].Weight)
}

func TestParseEvalConfigFromString_InvalidCase(t *testing.T) {
	bad := `
cases:
  - id: no-input
`
	_, err := ParseEvalConfigFromString(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing input")
}

func TestParseEvalConfigFromString_InvalidYAML(t *testing.T) {
	_, err := ParseEvalConfigFromString("cases: [")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseEvalConfigFromString_DefaultsApplied(t *testing.T) {
	content := `
defaults:
  agent: helper
  max_turns: 4
  on_max_turns: pass
  end_when:
    - type: fieldSet
      field_path: "$.done"

cases:
  - id: inherits
    input: "go"
  - id: overrides
    agent: other
    max_turns: 2
    input: "go"
    end_when:
      - type: maxTurns
        count: 2
`
	cfg, err := ParseEvalConfigFromString(content)
	require.NoError(t, err)
	require.Len(t, cfg.Cases, 2)

	inherits := cfg.Cases[0]
	assert.Equal(t, "helper", inherits.Agent)
	assert.Equal(t, 4, inherits.MaxTurns)
	assert.Equal(t, OutcomePass, inherits.OnMaxTurns)
	require.Len(t, inherits.EndWhen, 1)
	assert.Equal(t, ConditionFieldSet, inherits.EndWhen[0].Type)

	overrides := cfg.Cases[1]
	assert.Equal(t, "other", overrides.Agent)
	assert.Equal(t, 2, overrides.MaxTurns)
	require.Len(t, overrides.EndWhen, 1)
	assert.Equal(t, ConditionMaxTurns, overrides.EndWhen[0].Type, "case-level conditions replace the defaults")
}

func TestParseEvalConfigFromString_ConditionYAMLFields(t *testing.T) {
	content := `
cases:
  - id: conditions
    input: "go"
    end_when:
      - type: fieldValue
        field_path: "$.status"
        expected_value: complete
      - type: naturalLanguage
        description: the agent refused the request
`
	cfg, err := ParseEvalConfigFromString(content)
	require.NoError(t, err)

	conds := cfg.Cases[0].EndWhen
	require.Len(t, conds, 2)
	assert.Equal(t, "$.status", conds[0].FieldPath)
	assert.Equal(t, "complete", conds[0].ExpectedValue)
	assert.Equal(t, "the agent refused the request", conds[1].Description)
}

func TestParseEvalConfigFromString_CustomConditionRejected(t *testing.T) {
	content := `
cases:
  - id: custom
    input: "go"
    end_when:
      - type: custom
`
	_, err := ParseEvalConfigFromString(content)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not expressible in YAML")
}

func TestParseEvalConfig_MissingFile(t *testing.T) {
	_, err := ParseEvalConfig("/nonexistent/eval.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read file")
}
