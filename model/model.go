package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// CRITERIA AND VERDICTS
// ============================================================================

const DefaultCriterionWeight = 1.0

// ValidationOutcome is the result of running a validator criterion against
// the agent's output. A nil Errors slice with Valid=true means the check passed.
type ValidationOutcome struct {
	Valid  bool
	Errors []string
}

// ValidatorFunc deterministically checks an agent output. Criteria carrying a
// validator are never sent to the judge model.
type ValidatorFunc func(output any) ValidationOutcome

// Criterion is a named, weighted check contributing to the overall score.
// A criterion with a Validator is evaluated locally; one without is graded
// by the judge model.
type Criterion struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	Weight      float64       `yaml:"weight" json:"weight"`
	Validator   ValidatorFunc `yaml:"-" json:"-"`
}

// Verdict is the scored outcome of evaluating one criterion.
type Verdict struct {
	CriterionID string  `json:"criterionId"`
	Score       float64 `json:"score"`
	Reasoning   string  `json:"reasoning"`
	Passed      bool    `json:"passed"`
}

// ============================================================================
// TERMINATION CONDITIONS
// ============================================================================

type ConditionType string

const (
	ConditionMaxTurns        ConditionType = "maxTurns"
	ConditionFieldSet        ConditionType = "fieldSet"
	ConditionFieldValue      ConditionType = "fieldValue"
	ConditionCustom          ConditionType = "custom"
	ConditionNaturalLanguage ConditionType = "naturalLanguage"
)

// TurnContext is the conversation state a termination condition (or a
// context-driven follow-up) is evaluated against.
type TurnContext struct {
	TurnIndex    int
	LatestOutput any
	History      []ConversationTurn
}

// CustomCheck is a caller-supplied termination predicate. Only expressible
// programmatically; a YAML condition of type "custom" fails validation.
type CustomCheck func(tctx TurnContext) (bool, error)

// TerminationCondition is one variant of the end_when DSL, dispatched by Type.
// Conditions are immutable once the case is loaded and are validated up front
// rather than at evaluation time.
type TerminationCondition struct {
	Type ConditionType `yaml:"type" json:"type"`

	// maxTurns
	Count int `yaml:"count,omitempty" json:"count,omitempty"`

	// fieldSet / fieldValue
	FieldPath string `yaml:"field_path,omitempty" json:"fieldPath,omitempty"`

	// fieldValue only. A nil value means the expected value is JSON null,
	// which is a valid expectation.
	ExpectedValue any `yaml:"expected_value,omitempty" json:"expectedValue,omitempty"`

	// naturalLanguage
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// custom
	Check CustomCheck `yaml:"-" json:"-"`
}

// Validate checks the variant-specific required fields.
func (c TerminationCondition) Validate() error {
	switch c.Type {
	case ConditionMaxTurns:
		if c.Count <= 0 {
			return fmt.Errorf("maxTurns condition requires a positive count, got %d", c.Count)
		}
	case ConditionFieldSet:
		if c.FieldPath == "" {
			return fmt.Errorf("fieldSet condition requires field_path")
		}
	case ConditionFieldValue:
		if c.FieldPath == "" {
			return fmt.Errorf("fieldValue condition requires field_path")
		}
	case ConditionCustom:
		if c.Check == nil {
			return fmt.Errorf("custom condition requires a check function (not expressible in YAML)")
		}
	case ConditionNaturalLanguage:
		if strings.TrimSpace(c.Description) == "" {
			return fmt.Errorf("naturalLanguage condition requires a description")
		}
	case "":
		return fmt.Errorf("termination condition is missing type")
	default:
		return fmt.Errorf("unknown termination condition type: %s", c.Type)
	}
	return nil
}

// Label is a short human-readable identifier used in reasons and reports.
func (c TerminationCondition) Label() string {
	switch c.Type {
	case ConditionMaxTurns:
		return fmt.Sprintf("maxTurns(%d)", c.Count)
	case ConditionFieldSet:
		return fmt.Sprintf("fieldSet(%s)", c.FieldPath)
	case ConditionFieldValue:
		return fmt.Sprintf("fieldValue(%s=%v)", c.FieldPath, c.ExpectedValue)
	case ConditionNaturalLanguage:
		return fmt.Sprintf("naturalLanguage(%q)", c.Description)
	default:
		return string(c.Type)
	}
}

// Termination describes why (and whether) a conversation stopped.
type Termination struct {
	Terminated bool                  `json:"terminated"`
	Reason     string                `json:"reason"`
	Type       ConditionType         `json:"terminationType,omitempty"`
	Matched    *TerminationCondition `json:"matchedCondition,omitempty"`
}

// ============================================================================
// CONVERSATION
// ============================================================================

// ConversationTurn is one agent turn. Output is nil and Error is set when the
// agent failed on that turn.
type ConversationTurn struct {
	TurnIndex  int    `json:"turnIndex"`
	Input      any    `json:"input"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	LatencyMs  int64  `json:"latencyMs"`
	TokensUsed int    `json:"tokensUsed"`
}

// FollowUpFunc derives the next input from the accumulated conversation.
type FollowUpFunc func(tctx TurnContext) (any, error)

// UnboundedRepeat marks a follow-up that repeats until a termination
// condition stops the conversation.
const UnboundedRepeat = -1

// FollowUp is one entry of a case's follow-up input sequence. Exactly one of
// Value, FromContext, or Persona should be set. Repeat defaults to 1; a
// negative value means "repeat until termination" and is only legal on the
// last entry.
type FollowUp struct {
	Value       any          `yaml:"value,omitempty" json:"value,omitempty"`
	Persona     string       `yaml:"persona,omitempty" json:"persona,omitempty"`
	FromContext FollowUpFunc `yaml:"-" json:"-"`
	Repeat      int          `yaml:"repeat,omitempty" json:"repeat,omitempty"`
}

func (f FollowUp) kindCount() int {
	n := 0
	if f.Value != nil {
		n++
	}
	if f.Persona != "" {
		n++
	}
	if f.FromContext != nil {
		n++
	}
	return n
}

// Unbounded reports whether this entry repeats until termination.
func (f FollowUp) Unbounded() bool {
	return f.Repeat < 0
}

// Times returns the effective repeat count for a bounded entry.
func (f FollowUp) Times() int {
	if f.Repeat == 0 {
		return 1
	}
	return f.Repeat
}

// ============================================================================
// TEST CASES
// ============================================================================

type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// GradeScope controls what the final judge call grades: only the last turn's
// output, or the full transcript.
type GradeScope string

const (
	GradeLastTurn   GradeScope = "last"
	GradeTranscript GradeScope = "transcript"
)

const DefaultMaxTurns = 10

// Case is an immutable multi-turn test case definition. EndWhen conditions
// are OR-combined but checked in declaration order; the first satisfied
// condition wins.
type Case struct {
	ID            string                 `yaml:"id" json:"id"`
	Name          string                 `yaml:"name,omitempty" json:"name,omitempty"`
	Agent         string                 `yaml:"agent,omitempty" json:"agent,omitempty"`
	Input         any                    `yaml:"input" json:"input"`
	FollowUps     []FollowUp             `yaml:"follow_ups,omitempty" json:"followUps,omitempty"`
	EndWhen       []TerminationCondition `yaml:"end_when,omitempty" json:"endWhen,omitempty"`
	OnCondition   Outcome                `yaml:"on_condition_met,omitempty" json:"onConditionMet,omitempty"`
	OnMaxTurns    Outcome                `yaml:"on_max_turns,omitempty" json:"onMaxTurnsReached,omitempty"`
	MaxTurns      int                    `yaml:"max_turns,omitempty" json:"maxTurns,omitempty"`
	Criteria      []Criterion            `yaml:"criteria,omitempty" json:"criteria,omitempty"`
	GradeScope    GradeScope             `yaml:"grade_scope,omitempty" json:"gradeScope,omitempty"`
	PassThreshold float64                `yaml:"pass_threshold,omitempty" json:"passThreshold,omitempty"`
}

// Validate checks the case definition once at load time. It normalizes
// defaults in place: criterion weights default to 1, on_condition_met to
// pass, on_max_turns to fail when end_when conditions are declared and pass
// otherwise, grade scope to "last".
func (c *Case) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("case is missing id")
	}
	if c.Input == nil {
		return fmt.Errorf("case %q is missing input", c.ID)
	}

	for i, f := range c.FollowUps {
		if f.kindCount() != 1 {
			return fmt.Errorf("case %q: follow_up[%d] must set exactly one of value, persona, or a context function", c.ID, i)
		}
		if f.Unbounded() && i != len(c.FollowUps)-1 {
			return fmt.Errorf("case %q: follow_up[%d] has unbounded repeat but is not the last entry; later entries are unreachable", c.ID, i)
		}
	}

	for i, cond := range c.EndWhen {
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("case %q: end_when[%d]: %w", c.ID, i, err)
		}
	}

	seen := make(map[string]bool, len(c.Criteria))
	for i := range c.Criteria {
		cr := &c.Criteria[i]
		if cr.ID == "" {
			return fmt.Errorf("case %q: criteria[%d] is missing id", c.ID, i)
		}
		if seen[cr.ID] {
			return fmt.Errorf("case %q: duplicate criterion id %q", c.ID, cr.ID)
		}
		seen[cr.ID] = true
		if cr.Weight < 0 {
			return fmt.Errorf("case %q: criterion %q has negative weight", c.ID, cr.ID)
		}
		if cr.Weight == 0 {
			cr.Weight = DefaultCriterionWeight
		}
	}

	switch c.OnCondition {
	case "":
		c.OnCondition = OutcomePass
	case OutcomePass, OutcomeFail:
	default:
		return fmt.Errorf("case %q: on_condition_met must be pass or fail, got %q", c.ID, c.OnCondition)
	}
	switch c.OnMaxTurns {
	case "":
		// Without declared conditions, running the scripted inputs to
		// completion is the expected end of the conversation. With
		// conditions, reaching the bound means none of them ever fired.
		if len(c.EndWhen) == 0 {
			c.OnMaxTurns = OutcomePass
		} else {
			c.OnMaxTurns = OutcomeFail
		}
	case OutcomePass, OutcomeFail:
	default:
		return fmt.Errorf("case %q: on_max_turns must be pass or fail, got %q", c.ID, c.OnMaxTurns)
	}
	switch c.GradeScope {
	case "":
		c.GradeScope = GradeLastTurn
	case GradeLastTurn, GradeTranscript:
	default:
		return fmt.Errorf("case %q: grade_scope must be last or transcript, got %q", c.ID, c.GradeScope)
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}

	return nil
}

// ============================================================================
// EVALUATION RESULT
// ============================================================================

// Metrics aggregates resource usage across one case run.
type Metrics struct {
	TokensUsed int   `json:"tokenUsage"`
	LatencyMs  int64 `json:"latencyMs"`
}

// EvaluationResult is the final outcome of one multi-turn case run.
type EvaluationResult struct {
	Case         *Case              `json:"testCase"`
	History      []ConversationTurn `json:"conversationHistory"`
	TotalTurns   int                `json:"totalTurns"`
	Termination  Termination        `json:"termination"`
	Verdicts     []Verdict          `json:"verdicts,omitempty"`
	OverallScore float64            `json:"overallScore"`
	Passed       bool               `json:"passed"`
	Metrics      Metrics            `json:"metrics"`
	Error        string             `json:"error,omitempty"`
	StartTime    time.Time          `json:"startTime"`
	EndTime      time.Time          `json:"endTime"`
}

// CaseRun pairs a case run with suite-level bookkeeping for reporting.
type CaseRun struct {
	AgentName string            `json:"agentName"`
	Result    *EvaluationResult `json:"result"`
}

// JudgeClient answers whether a natural-language statement holds for the
// conversation so far. Implemented by the judge package; declared here so the
// termination evaluator does not depend on it.
type JudgeClient interface {
	CheckCondition(ctx context.Context, description string, tctx TurnContext) (bool, error)
}
