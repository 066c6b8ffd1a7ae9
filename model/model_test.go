package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Case validation
// ---------------------------------------------------------------------------

func TestCaseValidate_AppliesDefaults(t *testing.T) {
	c := &Case{
		ID:    "defaults",
		Input: "hello",
		Criteria: []Criterion{
			{ID: "a", Weight: 0},
			{ID: "b", Weight: 2},
		},
	}

	require.NoError(t, c.Validate())

	assert.Equal(t, 1.0, c.Criteria[0].Weight, "zero weight defaults to 1")
	assert.Equal(t, 2.0, c.Criteria[1].Weight)
	assert.Equal(t, OutcomePass, c.OnCondition)
	assert.Equal(t, OutcomePass, c.OnMaxTurns, "no conditions declared, so completion passes")
	assert.Equal(t, GradeLastTurn, c.GradeScope)
	assert.Equal(t, DefaultMaxTurns, c.MaxTurns)
}

func TestCaseValidate_OnMaxTurnsDefaultWithConditions(t *testing.T) {
	c := &Case{
		ID:    "bounded",
		Input: "hello",
		EndWhen: []TerminationCondition{
			{Type: ConditionFieldSet, FieldPath: "$.done"},
		},
	}

	require.NoError(t, c.Validate())
	assert.Equal(t, OutcomeFail, c.OnMaxTurns, "unmatched conditions fail by default")
}

func TestCaseValidate_MissingID(t *testing.T) {
	c := &Case{Input: "x"}
	assert.ErrorContains(t, c.Validate(), "missing id")
}

func TestCaseValidate_MissingInput(t *testing.T) {
	c := &Case{ID: "x"}
	assert.ErrorContains(t, c.Validate(), "missing input")
}

func TestCaseValidate_DuplicateCriterionID(t *testing.T) {
	c := &Case{
		ID:    "dup",
		Input: "x",
		Criteria: []Criterion{
			{ID: "same"},
			{ID: "same"},
		},
	}
	assert.ErrorContains(t, c.Validate(), "duplicate criterion")
}

func TestCaseValidate_NegativeWeight(t *testing.T) {
	c := &Case{
		ID:       "neg",
		Input:    "x",
		Criteria: []Criterion{{ID: "c", Weight: -1}},
	}
	assert.ErrorContains(t, c.Validate(), "negative weight")
}

func TestCaseValidate_InvalidOutcome(t *testing.T) {
	c := &Case{ID: "o", Input: "x", OnCondition: "maybe"}
	assert.ErrorContains(t, c.Validate(), "on_condition_met")
}

func TestCaseValidate_InvalidGradeScope(t *testing.T) {
	c := &Case{ID: "g", Input: "x", GradeScope: "everything"}
	assert.ErrorContains(t, c.Validate(), "grade_scope")
}

func TestCaseValidate_FollowUpExactlyOneKind(t *testing.T) {
	c := &Case{
		ID:        "both",
		Input:     "x",
		FollowUps: []FollowUp{{Value: "v", Persona: "p"}},
	}
	assert.ErrorContains(t, c.Validate(), "exactly one")

	c = &Case{
		ID:        "neither",
		Input:     "x",
		FollowUps: []FollowUp{{Repeat: 2}},
	}
	assert.ErrorContains(t, c.Validate(), "exactly one")
}

func TestCaseValidate_UnboundedMustBeLast(t *testing.T) {
	c := &Case{
		ID:    "unbounded-middle",
		Input: "x",
		FollowUps: []FollowUp{
			{Value: "forever", Repeat: UnboundedRepeat},
			{Value: "never"},
		},
	}
	assert.ErrorContains(t, c.Validate(), "unreachable")

	c = &Case{
		ID:    "unbounded-last",
		Input: "x",
		FollowUps: []FollowUp{
			{Value: "once"},
			{Value: "forever", Repeat: UnboundedRepeat},
		},
	}
	assert.NoError(t, c.Validate())
}

// ---------------------------------------------------------------------------
// Termination condition validation
// ---------------------------------------------------------------------------

func TestConditionValidate(t *testing.T) {
	valid := []TerminationCondition{
		{Type: ConditionMaxTurns, Count: 5},
		{Type: ConditionFieldSet, FieldPath: "$.x"},
		{Type: ConditionFieldValue, FieldPath: "$.x", ExpectedValue: nil},
		{Type: ConditionCustom, Check: func(TurnContext) (bool, error) { return false, nil }},
		{Type: ConditionNaturalLanguage, Description: "the user gave up"},
	}
	for _, c := range valid {
		assert.NoError(t, c.Validate(), "type %s", c.Type)
	}
}

func TestConditionValidate_Invalid(t *testing.T) {
	cases := map[string]TerminationCondition{
		"maxTurns without count":  {Type: ConditionMaxTurns},
		"fieldSet without path":   {Type: ConditionFieldSet},
		"fieldValue without path": {Type: ConditionFieldValue},
		"custom without function": {Type: ConditionCustom},
		"naturalLanguage blank":   {Type: ConditionNaturalLanguage, Description: "  "},
		"missing type":            {},
		"unknown type":            {Type: "untilSunset"},
	}
	for name, c := range cases {
		assert.Error(t, c.Validate(), name)
	}
}

func TestConditionLabel(t *testing.T) {
	assert.Equal(t, "maxTurns(3)", TerminationCondition{Type: ConditionMaxTurns, Count: 3}.Label())
	assert.Equal(t, "fieldSet($.x)", TerminationCondition{Type: ConditionFieldSet, FieldPath: "$.x"}.Label())
}

// ---------------------------------------------------------------------------
// Follow-up helpers
// ---------------------------------------------------------------------------

func TestFollowUpTimes(t *testing.T) {
	assert.Equal(t, 1, FollowUp{}.Times(), "repeat defaults to 1")
	assert.Equal(t, 3, FollowUp{Repeat: 3}.Times())
	assert.True(t, FollowUp{Repeat: UnboundedRepeat}.Unbounded())
	assert.False(t, FollowUp{Repeat: 2}.Unbounded())
}

// ---------------------------------------------------------------------------
// Path lookup and deep equality
// ---------------------------------------------------------------------------

func TestLookupPath(t *testing.T) {
	out := map[string]any{
		"user": map[string]any{"name": "ada"},
		"tags": []any{"a", "b"},
		"nil":  nil,
	}

	v, found := LookupPath(out, "$.user.name")
	assert.True(t, found)
	assert.Equal(t, "ada", v)

	// Dotted form without the $ prefix.
	v, found = LookupPath(out, "user.name")
	assert.True(t, found)
	assert.Equal(t, "ada", v)

	v, found = LookupPath(out, "$.nil")
	assert.True(t, found, "a present null resolves")
	assert.Nil(t, v)

	_, found = LookupPath(out, "$.missing")
	assert.False(t, found)

	_, found = LookupPath(nil, "$.anything")
	assert.False(t, found)

	_, found = LookupPath(out, "")
	assert.False(t, found)
}

func TestDeepEqual_NumericCoercion(t *testing.T) {
	assert.True(t, DeepEqual(5, float64(5)))
	assert.True(t, DeepEqual("x", "x"))
	assert.True(t, DeepEqual(nil, nil))
	assert.False(t, DeepEqual(5, 6))
	assert.False(t, DeepEqual("5", 5.5))
}

func TestDeepEqual_Composite(t *testing.T) {
	a := map[string]any{"n": 1, "list": []any{1, 2}}
	b := map[string]any{"list": []any{float64(1), float64(2)}, "n": float64(1)}
	assert.True(t, DeepEqual(a, b))
	assert.False(t, DeepEqual(a, map[string]any{"n": 2}))
}

func TestRenderTemplate(t *testing.T) {
	out := RenderTemplate("hello {{NAME}}", map[string]string{"NAME": "world"})
	assert.Equal(t, "hello world", out)

	// Broken templates fall back to the input.
	out = RenderTemplate("hello {{", nil)
	assert.Equal(t, "hello {{", out)
}
