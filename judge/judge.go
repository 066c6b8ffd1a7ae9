// Package judge combines deterministic validator checks with LLM-graded
// criteria into one weighted score. At most one model call is issued per
// evaluation regardless of how many criteria need grading.
package judge

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-eval/logger"
	"github.com/mykhaliev/agent-eval/model"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultPassThreshold = 70.0
	ApproxTokenDivisor   = 4

	passedMessage = "criterion passed"
)

const gradingSystemPrompt = `You are an impartial evaluator of AI agent outputs.

Score each criterion from 0 to 100 based on how well the agent's output satisfies it. Respond with JSON only, in exactly this shape:

{"verdicts": [{"criterionId": "<id>", "score": <0-100>, "reasoning": "<why>", "passed": <true|false>}]}

Include one verdict for every criterion you are given, using its exact id. Be specific in the reasoning.`

const conditionSystemPrompt = `You decide whether a statement about a conversation holds.

Respond with JSON only, in exactly this shape:

{"satisfied": <true|false>, "reasoning": "<why>"}`

// Judge grades agent outputs against configured criteria.
type Judge struct {
	LLM              llms.Model
	PassThreshold    float64 // default 70; the boundary value passes
	AgentDescription string
}

// Input carries everything one evaluation needs.
type Input struct {
	Input    any
	Output   any
	Criteria []model.Criterion
}

// Metadata is attached only when a model call actually occurred.
type Metadata struct {
	TokensUsed int `json:"tokensUsed"`
}

// Evaluation is the combined result over all criteria.
type Evaluation struct {
	Verdicts     []model.Verdict `json:"verdicts"`
	OverallScore float64         `json:"overallScore"`
	Passed       bool            `json:"passed"`
	Metadata     *Metadata       `json:"metadata,omitempty"`
}

// IncompleteVerdictsError reports criteria the model failed to grade. This is
// distinct from the model call itself failing.
type IncompleteVerdictsError struct {
	Missing []string
}

func (e *IncompleteVerdictsError) Error() string {
	return fmt.Sprintf("judge response is missing verdicts for criteria: %s", strings.Join(e.Missing, ", "))
}

func (j *Judge) threshold() float64 {
	if j.PassThreshold <= 0 {
		return DefaultPassThreshold
	}
	return j.PassThreshold
}

// Evaluate scores the output against every configured criterion. Criteria
// with a validator are checked locally; the rest are graded in a single
// structured-output model call.
func (j *Judge) Evaluate(ctx context.Context, in Input) (*Evaluation, error) {
	var validators, graded []model.Criterion
	for _, c := range in.Criteria {
		if c.Validator != nil {
			validators = append(validators, c)
		} else {
			graded = append(graded, c)
		}
	}

	verdicts := make(map[string]model.Verdict, len(in.Criteria))
	for _, c := range validators {
		verdicts[c.ID] = runValidator(c, in.Output)
	}

	var meta *Metadata
	if len(graded) > 0 {
		gradedVerdicts, tokens, err := j.grade(ctx, in, graded)
		if err != nil {
			return nil, err
		}
		for id, v := range gradedVerdicts {
			verdicts[id] = v
		}
		meta = &Metadata{TokensUsed: tokens}
	}

	// One verdict per configured criterion, in declaration order.
	ordered := make([]model.Verdict, 0, len(in.Criteria))
	totalWeight := 0.0
	weightedSum := 0.0
	for _, c := range in.Criteria {
		v := verdicts[c.ID]
		ordered = append(ordered, v)
		totalWeight += c.Weight
		weightedSum += v.Score * c.Weight
	}

	overall := 0.0
	if totalWeight > 0 {
		overall = round2(weightedSum / totalWeight)
	}

	return &Evaluation{
		Verdicts:     ordered,
		OverallScore: overall,
		Passed:       overall >= j.threshold(),
		Metadata:     meta,
	}, nil
}

// CheckCondition asks the judge model whether a natural-language statement
// holds for the conversation so far. Implements model.JudgeClient for the
// termination evaluator.
func (j *Judge) CheckCondition(ctx context.Context, description string, tctx model.TurnContext) (bool, error) {
	var sb strings.Builder
	sb.WriteString("STATEMENT\n=========\n")
	sb.WriteString(description)
	sb.WriteString("\n\nCONVERSATION SO FAR\n===================\n")
	sb.WriteString(RenderTranscript(tctx.History))
	sb.WriteString("\nDoes the statement hold for this conversation?\n")

	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, conditionSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, sb.String()),
	}

	resp, err := j.LLM.GenerateContent(ctx, msgs, llms.WithJSONMode())
	if err != nil {
		return false, fmt.Errorf("condition judge call failed: %w", err)
	}
	content := firstContent(resp)
	if content == "" {
		return false, fmt.Errorf("condition judge returned an empty response")
	}

	var answer struct {
		Satisfied bool   `json:"satisfied"`
		Reasoning string `json:"reasoning"`
	}
	if err := sonic.Unmarshal([]byte(stripFences(content)), &answer); err != nil {
		return false, fmt.Errorf("condition judge response is not valid JSON: %w", err)
	}

	logger.Logger.Debug("Natural-language condition checked",
		"satisfied", answer.Satisfied,
		"reasoning", answer.Reasoning)
	return answer.Satisfied, nil
}

func runValidator(c model.Criterion, output any) model.Verdict {
	outcome := c.Validator(output)
	if outcome.Valid {
		return model.Verdict{
			CriterionID: c.ID,
			Score:       100,
			Reasoning:   passedMessage,
			Passed:      true,
		}
	}
	return model.Verdict{
		CriterionID: c.ID,
		Score:       0,
		Reasoning:   fmt.Sprintf("validation failed: %s", strings.Join(outcome.Errors, "; ")),
		Passed:      false,
	}
}

// gradedVerdict mirrors the wire shape the judge model must return. Passed
// is optional; when absent it is derived from the score and threshold.
type gradedVerdict struct {
	CriterionID string  `json:"criterionId"`
	Score       float64 `json:"score"`
	Reasoning   string  `json:"reasoning"`
	Passed      *bool   `json:"passed,omitempty"`
}

func (j *Judge) grade(ctx context.Context, in Input, criteria []model.Criterion) (map[string]model.Verdict, int, error) {
	prompt, err := buildGradingPrompt(in, criteria, j.AgentDescription)
	if err != nil {
		return nil, 0, err
	}

	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, gradingSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := j.LLM.GenerateContent(ctx, msgs, llms.WithJSONMode())
	if err != nil {
		return nil, 0, fmt.Errorf("judge model call failed: %w", err)
	}
	content := firstContent(resp)
	if content == "" {
		return nil, 0, fmt.Errorf("judge model returned an empty response")
	}

	var parsed struct {
		Verdicts []gradedVerdict `json:"verdicts"`
	}
	if err := sonic.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		return nil, 0, fmt.Errorf("judge response is not valid JSON: %w", err)
	}

	verdicts := make(map[string]model.Verdict, len(criteria))
	for _, gv := range parsed.Verdicts {
		score := clampScore(gv.Score)
		passed := score >= j.threshold()
		if gv.Passed != nil {
			passed = *gv.Passed
		}
		verdicts[gv.CriterionID] = model.Verdict{
			CriterionID: gv.CriterionID,
			Score:       score,
			Reasoning:   gv.Reasoning,
			Passed:      passed,
		}
	}

	var missing []string
	for _, c := range criteria {
		if _, ok := verdicts[c.ID]; !ok {
			missing = append(missing, c.ID)
		}
	}
	if len(missing) > 0 {
		return nil, 0, &IncompleteVerdictsError{Missing: missing}
	}

	return verdicts, len(content) / ApproxTokenDivisor, nil
}

func buildGradingPrompt(in Input, criteria []model.Criterion, agentDescription string) (string, error) {
	type criterionDoc struct {
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Weight      float64 `json:"weight"`
	}
	docs := make([]criterionDoc, 0, len(criteria))
	for _, c := range criteria {
		docs = append(docs, criterionDoc{ID: c.ID, Name: c.Name, Description: c.Description, Weight: c.Weight})
	}
	criteriaJSON, err := sonic.MarshalString(docs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal criteria: %w", err)
	}

	var sb strings.Builder
	if agentDescription != "" {
		sb.WriteString("AGENT UNDER TEST\n================\n")
		sb.WriteString(agentDescription)
		sb.WriteString("\n\n")
	}
	sb.WriteString("CRITERIA\n========\n")
	sb.WriteString(criteriaJSON)
	sb.WriteString("\n\nINPUT\n=====\n")
	sb.WriteString(renderValue(in.Input))
	sb.WriteString("\n\nOUTPUT\n======\n")
	sb.WriteString(renderValue(in.Output))
	sb.WriteString("\n\nGrade every criterion.\n")
	return sb.String(), nil
}

// RenderTranscript renders conversation history as a user/agent transcript
// for judge prompts.
func RenderTranscript(history []model.ConversationTurn) string {
	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString(fmt.Sprintf("[turn %d] user: %s\n", turn.TurnIndex, renderValue(turn.Input)))
		if turn.Error != "" {
			sb.WriteString(fmt.Sprintf("[turn %d] agent: <failed: %s>\n", turn.TurnIndex, turn.Error))
			continue
		}
		sb.WriteString(fmt.Sprintf("[turn %d] agent: %s\n", turn.TurnIndex, renderValue(turn.Output)))
	}
	return sb.String()
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "<none>"
	case string:
		return t
	default:
		s, err := sonic.MarshalString(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return s
	}
}

func firstContent(resp *llms.ContentResponse) string {
	for _, choice := range resp.Choices {
		if choice.Content != "" {
			return choice.Content
		}
	}
	return ""
}

// stripFences removes markdown code fences some models wrap around JSON.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(content, fence) {
			content = strings.TrimPrefix(content, fence)
			if idx := strings.LastIndex(content, "```"); idx >= 0 {
				content = content[:idx]
			}
			break
		}
	}
	return strings.TrimSpace(content)
}

func clampScore(s float64) float64 {
	return math.Max(0, math.Min(100, s))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
