package generator

// caseSchema documents the YAML structure that must be emitted by the LLM.
const caseSchema = `
cases:                               # Required top-level key
  - id: "case-id"                    # Unique case identifier (string, required)
    name: "human readable name"      # Optional display name
    agent: "agent-name"              # Agent name (must match one of the configured agents)
    input: "first user message"      # The opening message sent to the agent (string or object)
    follow_ups:                      # Optional list of scripted follow-up inputs
      - value: "next user message"   # Static follow-up text
        repeat: 1                    # Optional repeat count (default 1)
    end_when:                        # Optional list of termination conditions (see below)
      - type: fieldSet
        field_path: "$.result"
    on_condition_met: pass           # Outcome when a condition fires: pass (default) or fail
    on_max_turns: fail               # Outcome when the turn bound is hit: pass or fail (default)
    max_turns: 5                     # Safety bound on conversation length (default 10)
    grade_scope: last                # What the judge grades: last (default) or transcript
    criteria:                        # Optional list of graded criteria (see below)
      - id: "criterion-id"
        name: "short name"
        description: "what good output looks like"
        weight: 1
`

// conditionTypesDoc documents every termination condition type the YAML
// format supports, with required fields.
const conditionTypesDoc = `
TERMINATION CONDITION TYPES
===========================

Conditions are checked in declaration order after every agent turn; the first
one that holds ends the conversation.

  maxTurns          - Ends the conversation after N agent turns.
                      Required: type, count (positive int)
  fieldSet          - Ends when a JSONPath resolves to a non-null value in the
                      agent's latest structured output.
                      Required: type, field_path (JSONPath string, e.g. "$.status")
  fieldValue        - Ends when a JSONPath resolves to a specific value.
                      Required: type, field_path (string), expected_value (any)
  naturalLanguage   - Ends when a judge model decides the described situation
                      has occurred in the conversation.
                      Required: type, description (string)

Do NOT emit conditions of type "custom"; those are only expressible in code.
`

// criteriaDoc documents the grading criteria fields.
const criteriaDoc = `
GRADING CRITERIA
================

Each criterion is scored 0-100 by a judge model and contributes its weight to
the overall score. A case passes grading when the weighted average meets the
pass threshold (default 70).

  id          - Unique criterion identifier within the case (required)
  name        - Short display name
  description - Precise instructions for the judge: what a correct, complete
                output looks like for this criterion (required in practice;
                vague descriptions produce unreliable scores)
  weight      - Relative weight, default 1
`

// validConditionTypes is the list of condition types the generator may emit.
// "custom" is deliberately absent; it requires a Go function.
var validConditionTypes = []string{
	"maxTurns",
	"fieldSet",
	"fieldValue",
	"naturalLanguage",
}
