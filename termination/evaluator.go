// Package termination decides when a multi-turn conversation should stop.
// Conditions are checked in declaration order and the first satisfied one
// wins, which makes the OR-combination deterministic.
package termination

import (
	"context"
	"fmt"

	"github.com/mykhaliev/agent-eval/model"
)

// Evaluator evaluates an ordered condition list against the conversation
// state. All variants are synchronous except naturalLanguage, which delegates
// to the judge client.
type Evaluator struct {
	Judge model.JudgeClient // required only for naturalLanguage conditions
}

// Evaluate returns the first satisfied condition, or a non-terminated result
// when none match. Condition errors (a failing custom predicate or judge
// call) abort evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, conds []model.TerminationCondition, tctx model.TurnContext) (model.Termination, error) {
	for i := range conds {
		cond := conds[i]
		satisfied, reason, err := e.check(ctx, cond, tctx)
		if err != nil {
			return model.Termination{}, fmt.Errorf("condition %s: %w", cond.Label(), err)
		}
		if satisfied {
			return model.Termination{
				Terminated: true,
				Reason:     reason,
				Type:       cond.Type,
				Matched:    &cond,
			}, nil
		}
	}
	return model.Termination{}, nil
}

func (e *Evaluator) check(ctx context.Context, cond model.TerminationCondition, tctx model.TurnContext) (bool, string, error) {
	switch cond.Type {
	case model.ConditionMaxTurns:
		if tctx.TurnIndex >= cond.Count {
			return true, fmt.Sprintf("reached %d turns", cond.Count), nil
		}
		return false, "", nil

	case model.ConditionFieldSet:
		v, found := model.LookupPath(tctx.LatestOutput, cond.FieldPath)
		if found && v != nil {
			return true, fmt.Sprintf("field %q is set", cond.FieldPath), nil
		}
		return false, "", nil

	case model.ConditionFieldValue:
		v, found := model.LookupPath(tctx.LatestOutput, cond.FieldPath)
		if found && model.DeepEqual(v, cond.ExpectedValue) {
			return true, fmt.Sprintf("field %q equals %v", cond.FieldPath, cond.ExpectedValue), nil
		}
		return false, "", nil

	case model.ConditionCustom:
		ok, err := cond.Check(tctx)
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, "custom condition satisfied", nil
		}
		return false, "", nil

	case model.ConditionNaturalLanguage:
		if e.Judge == nil {
			return false, "", fmt.Errorf("no judge configured for natural-language conditions")
		}
		ok, err := e.Judge.CheckCondition(ctx, cond.Description, tctx)
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, fmt.Sprintf("judge confirmed: %s", cond.Description), nil
		}
		return false, "", nil

	default:
		// Unknown types are rejected at load time; reaching this means the
		// condition bypassed validation.
		return false, "", fmt.Errorf("unknown condition type %q", cond.Type)
	}
}
