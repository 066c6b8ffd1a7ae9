// Package orchestrator runs one multi-turn test case to completion: it
// resolves each turn's input, invokes the agent under test, checks the
// termination conditions after every successful turn, and produces the final
// judged EvaluationResult.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/mykhaliev/agent-eval/judge"
	"github.com/mykhaliev/agent-eval/logger"
	"github.com/mykhaliev/agent-eval/model"
	"github.com/mykhaliev/agent-eval/termination"
)

// Agent is the collaborator under test.
type Agent interface {
	Execute(ctx context.Context, input any) (*AgentResponse, error)
}

// AgentResponse is one turn's output plus execution metadata.
type AgentResponse struct {
	Result     any
	TokensUsed int
	LatencyMs  int64
}

// UserSimulator generates the human side of the conversation. Implemented by
// persona.Persona.
type UserSimulator interface {
	NextInput(ctx context.Context, tctx model.TurnContext) (any, error)
}

// Orchestrator owns no state between runs; a fresh run state is created per
// Run call, so one orchestrator may serve sequential cases while concurrent
// cases get their own instance or share this one safely as long as the
// collaborators are concurrency-safe.
type Orchestrator struct {
	Agent       Agent
	Judge       *judge.Judge
	Termination *termination.Evaluator
	Simulators  map[string]UserSimulator
}

// conversation phases
type phase int

const (
	phaseAwaitingInput phase = iota
	phaseExecutingTurn
	phaseEvaluatingTermination
	phaseTerminated
)

// Run executes the case. The returned result is non-nil even when an error
// is returned, preserving all turns recorded before the failure.
func (o *Orchestrator) Run(ctx context.Context, c *model.Case) (*model.EvaluationResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	res := &model.EvaluationResult{
		Case:      c,
		History:   make([]model.ConversationTurn, 0, c.MaxTurns),
		StartTime: time.Now(),
	}
	defer func() {
		res.EndTime = time.Now()
		res.TotalTurns = len(res.History)
	}()

	seq := newInputSequence(c, o.Simulators)
	outcome := c.OnMaxTurns

	var (
		state = phaseAwaitingInput
		input any
	)

	for state != phaseTerminated {
		switch state {
		case phaseAwaitingInput:
			if len(res.History) >= c.MaxTurns {
				res.Termination = model.Termination{
					Terminated: true,
					Reason:     fmt.Sprintf("maximum turn bound (%d) reached without an explicit match", c.MaxTurns),
					Type:       model.ConditionMaxTurns,
				}
				state = phaseTerminated
				continue
			}

			next, ok, err := seq.next(ctx, turnContext(res.History))
			if err != nil {
				res.Error = err.Error()
				res.Passed = false
				return res, err
			}
			if !ok {
				res.Termination = model.Termination{
					Terminated: true,
					Reason:     "follow-up input sequence exhausted",
					Type:       model.ConditionMaxTurns,
				}
				state = phaseTerminated
				continue
			}
			input = next
			state = phaseExecutingTurn

		case phaseExecutingTurn:
			turnIndex := len(res.History) + 1
			logger.Logger.Debug("Executing turn", "case", c.ID, "turn", turnIndex)

			resp, err := o.Agent.Execute(ctx, input)
			if err != nil {
				// Agent failures halt the loop but never discard the turns
				// recorded so far.
				res.History = append(res.History, model.ConversationTurn{
					TurnIndex: turnIndex,
					Input:     input,
					Error:     err.Error(),
				})
				res.Termination = model.Termination{
					Reason: fmt.Sprintf("agent failed on turn %d", turnIndex),
				}
				res.Error = fmt.Sprintf("agent execution failed on turn %d: %v", turnIndex, err)
				res.Passed = false
				logger.Logger.Warn("Agent execution failed",
					"case", c.ID,
					"turn", turnIndex,
					"error", err)
				return res, nil
			}

			res.History = append(res.History, model.ConversationTurn{
				TurnIndex:  turnIndex,
				Input:      input,
				Output:     resp.Result,
				LatencyMs:  resp.LatencyMs,
				TokensUsed: resp.TokensUsed,
			})
			res.Metrics.TokensUsed += resp.TokensUsed
			res.Metrics.LatencyMs += resp.LatencyMs
			state = phaseEvaluatingTermination

		case phaseEvaluatingTermination:
			term, err := o.Termination.Evaluate(ctx, c.EndWhen, turnContext(res.History))
			if err != nil {
				res.Error = err.Error()
				res.Passed = false
				return res, err
			}
			if term.Terminated {
				res.Termination = term
				if term.Type == model.ConditionMaxTurns {
					outcome = c.OnMaxTurns
				} else {
					outcome = c.OnCondition
				}
				logger.Logger.Debug("Conversation terminated",
					"case", c.ID,
					"turn", len(res.History),
					"reason", term.Reason)
				state = phaseTerminated
				continue
			}
			state = phaseAwaitingInput
		}
	}

	return o.finalize(ctx, c, res, outcome)
}

// finalize runs the judge once over the finished conversation and merges the
// judged verdict with the termination-driven pass/fail override.
func (o *Orchestrator) finalize(ctx context.Context, c *model.Case, res *model.EvaluationResult, outcome model.Outcome) (*model.EvaluationResult, error) {
	overridePass := outcome == model.OutcomePass

	if len(c.Criteria) == 0 || o.Judge == nil {
		// Nothing to grade; the termination outcome decides alone.
		res.Passed = overridePass
		return res, nil
	}

	gradeInput, gradeOutput := gradePair(c, res.History)
	eval, err := o.Judge.Evaluate(ctx, judge.Input{
		Input:    gradeInput,
		Output:   gradeOutput,
		Criteria: c.Criteria,
	})
	if err != nil {
		res.Error = err.Error()
		res.Passed = false
		return res, err
	}

	res.Verdicts = eval.Verdicts
	res.OverallScore = eval.OverallScore
	res.Passed = eval.Passed && overridePass
	if eval.Metadata != nil {
		res.Metrics.TokensUsed += eval.Metadata.TokensUsed
	}
	return res, nil
}

// gradePair selects what the judge sees, per the case's grade scope: the
// last turn's input/output pair, or the initial input with the rendered
// transcript.
func gradePair(c *model.Case, history []model.ConversationTurn) (any, any) {
	if c.GradeScope == model.GradeTranscript || len(history) == 0 {
		return c.Input, judge.RenderTranscript(history)
	}
	last := history[len(history)-1]
	return last.Input, last.Output
}

func turnContext(history []model.ConversationTurn) model.TurnContext {
	tctx := model.TurnContext{
		TurnIndex: len(history),
		History:   history,
	}
	if len(history) > 0 {
		tctx.LatestOutput = history[len(history)-1].Output
	}
	return tctx
}

// inputSequence resolves the initial input and follow-up entries in order,
// honoring per-entry repeat counts. An unbounded entry keeps producing until
// a termination condition or the turn bound stops the run.
type inputSequence struct {
	initial    any
	sentFirst  bool
	followUps  []model.FollowUp
	idx        int
	usedOnIdx  int
	simulators map[string]UserSimulator
}

func newInputSequence(c *model.Case, simulators map[string]UserSimulator) *inputSequence {
	return &inputSequence{
		initial:    c.Input,
		followUps:  c.FollowUps,
		simulators: simulators,
	}
}

func (s *inputSequence) next(ctx context.Context, tctx model.TurnContext) (any, bool, error) {
	if !s.sentFirst {
		s.sentFirst = true
		return s.initial, true, nil
	}

	for s.idx < len(s.followUps) {
		entry := s.followUps[s.idx]
		if !entry.Unbounded() && s.usedOnIdx >= entry.Times() {
			s.idx++
			s.usedOnIdx = 0
			continue
		}
		s.usedOnIdx++
		v, err := s.resolve(ctx, entry, tctx)
		return v, true, err
	}

	return nil, false, nil
}

func (s *inputSequence) resolve(ctx context.Context, entry model.FollowUp, tctx model.TurnContext) (any, error) {
	switch {
	case entry.FromContext != nil:
		v, err := entry.FromContext(tctx)
		if err != nil {
			return nil, fmt.Errorf("context follow-up failed: %w", err)
		}
		return v, nil
	case entry.Persona != "":
		sim, ok := s.simulators[entry.Persona]
		if !ok {
			return nil, fmt.Errorf("unknown persona %q", entry.Persona)
		}
		return sim.NextInput(ctx, tctx)
	default:
		return entry.Value, nil
	}
}
