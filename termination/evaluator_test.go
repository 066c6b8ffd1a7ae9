package termination

import (
	"context"
	"errors"
	"testing"

	"github.com/mykhaliev/agent-eval/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubJudge answers natural-language condition checks from a fixed table.
type stubJudge struct {
	answers map[string]bool
	err     error
	calls   int
}

func (j *stubJudge) CheckCondition(_ context.Context, description string, _ model.TurnContext) (bool, error) {
	j.calls++
	if j.err != nil {
		return false, j.err
	}
	return j.answers[description], nil
}

func output(m map[string]any) model.TurnContext {
	return model.TurnContext{TurnIndex: 1, LatestOutput: m}
}

func TestEvaluate_NoConditions(t *testing.T) {
	e := &Evaluator{}
	term, err := e.Evaluate(context.Background(), nil, output(nil))
	require.NoError(t, err)
	assert.False(t, term.Terminated)
}

func TestEvaluate_MaxTurns(t *testing.T) {
	e := &Evaluator{}
	conds := []model.TerminationCondition{{Type: model.ConditionMaxTurns, Count: 3}}

	term, err := e.Evaluate(context.Background(), conds, model.TurnContext{TurnIndex: 2})
	require.NoError(t, err)
	assert.False(t, term.Terminated)

	term, err = e.Evaluate(context.Background(), conds, model.TurnContext{TurnIndex: 3})
	require.NoError(t, err)
	assert.True(t, term.Terminated)
	assert.Equal(t, model.ConditionMaxTurns, term.Type)
	assert.Contains(t, term.Reason, "3 turns")
}

func TestEvaluate_FieldSet(t *testing.T) {
	e := &Evaluator{}
	conds := []model.TerminationCondition{{Type: model.ConditionFieldSet, FieldPath: "$.status"}}

	term, err := e.Evaluate(context.Background(), conds, output(map[string]any{"other": 1}))
	require.NoError(t, err)
	assert.False(t, term.Terminated)

	term, err = e.Evaluate(context.Background(), conds, output(map[string]any{"status": "done"}))
	require.NoError(t, err)
	assert.True(t, term.Terminated)
	assert.Equal(t, model.ConditionFieldSet, term.Type)
}

func TestEvaluate_FieldSet_NullValueDoesNotCount(t *testing.T) {
	e := &Evaluator{}
	conds := []model.TerminationCondition{{Type: model.ConditionFieldSet, FieldPath: "$.status"}}

	term, err := e.Evaluate(context.Background(), conds, output(map[string]any{"status": nil}))
	require.NoError(t, err)
	assert.False(t, term.Terminated)
}

func TestEvaluate_FieldSet_NestedPath(t *testing.T) {
	e := &Evaluator{}
	conds := []model.TerminationCondition{{Type: model.ConditionFieldSet, FieldPath: "$.result.id"}}

	term, err := e.Evaluate(context.Background(), conds,
		output(map[string]any{"result": map[string]any{"id": "abc"}}))
	require.NoError(t, err)
	assert.True(t, term.Terminated)
}

func TestEvaluate_FieldValue(t *testing.T) {
	e := &Evaluator{}
	conds := []model.TerminationCondition{{
		Type:          model.ConditionFieldValue,
		FieldPath:     "$.state",
		ExpectedValue: "complete",
	}}

	term, err := e.Evaluate(context.Background(), conds, output(map[string]any{"state": "running"}))
	require.NoError(t, err)
	assert.False(t, term.Terminated)

	term, err = e.Evaluate(context.Background(), conds, output(map[string]any{"state": "complete"}))
	require.NoError(t, err)
	assert.True(t, term.Terminated)
	require.NotNil(t, term.Matched)
	assert.Equal(t, "$.state", term.Matched.FieldPath)
}

func TestEvaluate_FieldValue_NumericCoercion(t *testing.T) {
	// YAML expectations decode as int, JSON outputs as float64.
	e := &Evaluator{}
	conds := []model.TerminationCondition{{
		Type:          model.ConditionFieldValue,
		FieldPath:     "$.count",
		ExpectedValue: 5,
	}}

	term, err := e.Evaluate(context.Background(), conds, output(map[string]any{"count": float64(5)}))
	require.NoError(t, err)
	assert.True(t, term.Terminated)
}

func TestEvaluate_FieldValue_ExpectedNull(t *testing.T) {
	e := &Evaluator{}
	conds := []model.TerminationCondition{{
		Type:          model.ConditionFieldValue,
		FieldPath:     "$.error",
		ExpectedValue: nil,
	}}

	term, err := e.Evaluate(context.Background(), conds, output(map[string]any{"error": nil}))
	require.NoError(t, err)
	assert.True(t, term.Terminated, "a resolved path holding null should match an expected null")

	term, err = e.Evaluate(context.Background(), conds, output(map[string]any{"other": 1}))
	require.NoError(t, err)
	assert.False(t, term.Terminated, "an unresolved path should not match")
}

func TestEvaluate_Custom(t *testing.T) {
	e := &Evaluator{}
	conds := []model.TerminationCondition{{
		Type:  model.ConditionCustom,
		Check: func(tctx model.TurnContext) (bool, error) { return tctx.TurnIndex >= 2, nil },
	}}

	term, err := e.Evaluate(context.Background(), conds, model.TurnContext{TurnIndex: 1})
	require.NoError(t, err)
	assert.False(t, term.Terminated)

	term, err = e.Evaluate(context.Background(), conds, model.TurnContext{TurnIndex: 2})
	require.NoError(t, err)
	assert.True(t, term.Terminated)
}

func TestEvaluate_CustomError(t *testing.T) {
	e := &Evaluator{}
	boom := errors.New("boom")
	conds := []model.TerminationCondition{{
		Type:  model.ConditionCustom,
		Check: func(model.TurnContext) (bool, error) { return false, boom },
	}}

	_, err := e.Evaluate(context.Background(), conds, model.TurnContext{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestEvaluate_NaturalLanguage(t *testing.T) {
	judge := &stubJudge{answers: map[string]bool{"the user said goodbye": true}}
	e := &Evaluator{Judge: judge}
	conds := []model.TerminationCondition{{
		Type:        model.ConditionNaturalLanguage,
		Description: "the user said goodbye",
	}}

	term, err := e.Evaluate(context.Background(), conds, model.TurnContext{})
	require.NoError(t, err)
	assert.True(t, term.Terminated)
	assert.Contains(t, term.Reason, "the user said goodbye")
	assert.Equal(t, 1, judge.calls)
}

func TestEvaluate_NaturalLanguage_NoJudge(t *testing.T) {
	e := &Evaluator{}
	conds := []model.TerminationCondition{{
		Type:        model.ConditionNaturalLanguage,
		Description: "anything",
	}}

	_, err := e.Evaluate(context.Background(), conds, model.TurnContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no judge configured")
}

func TestEvaluate_DeclarationOrderWins(t *testing.T) {
	// Both conditions hold; the first declared one must be reported.
	e := &Evaluator{}
	conds := []model.TerminationCondition{
		{Type: model.ConditionFieldSet, FieldPath: "$.status"},
		{Type: model.ConditionFieldValue, FieldPath: "$.status", ExpectedValue: "done"},
	}

	term, err := e.Evaluate(context.Background(), conds, output(map[string]any{"status": "done"}))
	require.NoError(t, err)
	assert.True(t, term.Terminated)
	assert.Equal(t, model.ConditionFieldSet, term.Type)
}

func TestEvaluate_LaterConditionNotCheckedAfterMatch(t *testing.T) {
	judge := &stubJudge{}
	e := &Evaluator{Judge: judge}
	conds := []model.TerminationCondition{
		{Type: model.ConditionMaxTurns, Count: 1},
		{Type: model.ConditionNaturalLanguage, Description: "never asked"},
	}

	term, err := e.Evaluate(context.Background(), conds, model.TurnContext{TurnIndex: 1})
	require.NoError(t, err)
	assert.True(t, term.Terminated)
	assert.Equal(t, 0, judge.calls, "evaluation should stop at the first match")
}
