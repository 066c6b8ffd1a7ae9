// Package protocol implements the constrained two-tool contract used to
// extract structured progress and result data from a free-text model.
// The model is given exactly two tools: an optional "report_progress" and a
// required "submit_result", each wrapping its payload under a single "data"
// key. Progress events stream to the consumer over a channel; the run fails
// unless exactly one result is captured before the model ends its turn.
package protocol

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-eval/logger"
	"github.com/tmc/langchaingo/llms"
)

const (
	// Tool names and the data wrapper key are part of the wire protocol and
	// must not vary.
	ProgressToolName = "report_progress"
	ResultToolName   = "submit_result"
	DataKey          = "data"

	DefaultMaxIterations = 10
)

// DefaultInstructions is appended to the system prompt unless the caller
// supplies an override. It documents the two-tool contract and ordering rule.
const DefaultInstructions = `You must communicate results exclusively through the provided tools.

TOOL PROTOCOL:
1. Optionally call "report_progress" any number of times to report intermediate progress. Wrap the payload in the "data" argument.
2. Call "submit_result" exactly once with your final structured result wrapped in the "data" argument. Progress calls, if any, come first; the result call ends your work.

A turn that never calls "submit_result" is a failure. Do not describe your result in plain text instead of calling the tool.`

type EventKind string

const (
	EventProgress   EventKind = "progress"
	EventCompletion EventKind = "completion"
)

// Event is one emission of a protocol run: zero or more progress events
// followed by exactly one completion event carrying the final result.
type Event struct {
	Kind     EventKind
	Progress map[string]any // set when Kind == EventProgress
	Result   map[string]any // set when Kind == EventCompletion

	// Diagnostic reports the last progress payload that failed to parse or
	// validate, if any. Progress failures are non-fatal; the failure is
	// carried here (last one wins) instead of being silently lost.
	Diagnostic *Diagnostic
}

// Diagnostic describes a dropped tool payload.
type Diagnostic struct {
	Tool    string
	Message string
}

// NoResultError is returned when the model's turn ended without a
// successfully parsed result. Attempted distinguishes "submit_result was
// called but its payload never parsed" from "the model never called it".
type NoResultError struct {
	Attempted bool
	Cause     string
}

func (e *NoResultError) Error() string {
	if e.Attempted {
		return fmt.Sprintf("no result received: submit_result payload failed to parse or validate: %s", e.Cause)
	}
	return "no result received: the model never called submit_result"
}

// StepInfo is the state visible to caller-supplied stop conditions, checked
// after each model iteration alongside the built-in "result received" stop.
type StepInfo struct {
	Iteration      int
	ToolCalls      int
	ResultReceived bool
}

type StopCondition func(step StepInfo) bool

// Engine drives one model turn through the progress/result protocol.
// Result schema is required; Progress nil disables the progress tool.
type Engine struct {
	LLM           llms.Model
	Progress      *Schema
	Result        Schema
	Instructions  string // override for DefaultInstructions
	MaxIterations int
	StopWhen      []StopCondition
}

// Stream is the consumer side of a run. Events delivers progress events and
// one final completion event, then closes. Each send blocks until the
// consumer receives it; abandoning the channel and cancelling the context
// stops further delivery. After Events is closed, Err and Result report the
// terminal state.
type Stream struct {
	Events <-chan Event

	err    error
	result map[string]any
}

// Err returns the terminal error. Only valid after Events has been closed.
func (s *Stream) Err() error { return s.err }

// Result returns the captured result payload. Only valid after Events has
// been closed and Err is nil.
func (s *Stream) Result() map[string]any { return s.result }

// Collect drains the stream, returning the final result and all progress
// payloads in emission order.
func (s *Stream) Collect() (map[string]any, []map[string]any, error) {
	var progress []map[string]any
	for ev := range s.Events {
		if ev.Kind == EventProgress {
			progress = append(progress, ev.Progress)
		}
	}
	return s.result, progress, s.err
}

// Run starts the protocol turn. The producer goroutine drives the model call
// loop and feeds the stream; it stops when the context is cancelled, the
// result is captured, a stop condition fires, or the model ends its turn.
func (e *Engine) Run(ctx context.Context, msgs []llms.MessageContent) *Stream {
	events := make(chan Event)
	s := &Stream{Events: events}

	go func() {
		defer close(events)
		s.result, s.err = e.run(ctx, msgs, events)
	}()

	return s
}

func (e *Engine) run(ctx context.Context, msgs []llms.MessageContent, events chan<- Event) (map[string]any, error) {
	maxIterations := e.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	msgs = withInstructions(msgs, e.instructions())
	tools := e.tools()

	var (
		result         map[string]any
		resultDiag     *Diagnostic
		progressDiag   *Diagnostic
		attempted      bool
		iteration      int
		totalToolCalls int
	)

	for iteration < maxIterations {
		iteration++

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, err := e.LLM.GenerateContent(ctx, msgs, llms.WithTools(tools))
		if err != nil {
			return nil, fmt.Errorf("model call failed (iteration %d): %w", iteration, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("model returned no choices (iteration %d)", iteration)
		}

		choice := resp.Choices[0]
		if choice.Content != "" {
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, choice.Content))
		}

		if len(choice.ToolCalls) == 0 {
			// Model ended its turn without further tool calls.
			break
		}

		for _, tc := range choice.ToolCalls {
			totalToolCalls++

			msgs = append(msgs, llms.MessageContent{
				Role:  llms.ChatMessageTypeAI,
				Parts: []llms.ContentPart{tc},
			})

			ack := "ok"
			switch tc.FunctionCall.Name {
			case ProgressToolName:
				if e.Progress == nil {
					ack = "progress reporting is not enabled"
					break
				}
				payload, diag := decodePayload(tc.FunctionCall.Arguments, *e.Progress, ProgressToolName)
				if diag != nil {
					// Non-fatal: drop the event but keep the failure for
					// diagnostics. Last failure wins.
					progressDiag = diag
					logger.Logger.Debug("Progress payload dropped", "error", diag.Message)
					ack = "progress payload invalid: " + diag.Message
					break
				}
				select {
				case events <- Event{Kind: EventProgress, Progress: payload}:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			case ResultToolName:
				attempted = true
				payload, diag := decodePayload(tc.FunctionCall.Arguments, e.Result, ResultToolName)
				if diag != nil {
					resultDiag = diag
					logger.Logger.Debug("Result payload rejected", "error", diag.Message)
					ack = "result payload invalid: " + diag.Message
					break
				}
				// Only the last successful submit_result is honored.
				result = payload
				resultDiag = nil
			default:
				ack = fmt.Sprintf("unknown tool %q; use %s or %s", tc.FunctionCall.Name, ProgressToolName, ResultToolName)
			}

			msgs = append(msgs, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       tc.FunctionCall.Name,
						Content:    ack,
					},
				},
			})
		}

		step := StepInfo{Iteration: iteration, ToolCalls: totalToolCalls, ResultReceived: result != nil}
		if step.ResultReceived || e.shouldStop(step) {
			break
		}
	}

	if result == nil {
		nre := &NoResultError{Attempted: attempted}
		if resultDiag != nil {
			nre.Cause = resultDiag.Message
		}
		return nil, nre
	}

	select {
	case events <- Event{Kind: EventCompletion, Result: result, Diagnostic: progressDiag}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return result, nil
}

func (e *Engine) instructions() string {
	if e.Instructions != "" {
		return e.Instructions
	}
	return DefaultInstructions
}

func (e *Engine) shouldStop(step StepInfo) bool {
	for _, cond := range e.StopWhen {
		if cond(step) {
			return true
		}
	}
	return false
}

func (e *Engine) tools() []llms.Tool {
	var tools []llms.Tool

	if e.Progress != nil {
		tools = append(tools, wrapTool(ProgressToolName,
			"Report intermediate progress. May be called multiple times before submitting the result.",
			*e.Progress))
	}
	tools = append(tools, wrapTool(ResultToolName,
		"Submit the final structured result. Must be called exactly once.",
		e.Result))

	return tools
}

// wrapTool nests the payload schema under the single "data" key.
func wrapTool(name, description string, schema Schema) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					DataKey: schema.Definition(),
				},
				"required": []string{DataKey},
			},
		},
	}
}

// withInstructions appends the protocol instruction block to the system
// prompt, or prepends a system message when there is none.
func withInstructions(msgs []llms.MessageContent, instructions string) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs)+1)
	appended := false

	for _, m := range msgs {
		if !appended && m.Role == llms.ChatMessageTypeSystem {
			if text, ok := systemText(m); ok {
				out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, text+"\n\n"+instructions))
				appended = true
				continue
			}
		}
		out = append(out, m)
	}

	if !appended {
		out = append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, instructions)}, out...)
	}
	return out
}

func systemText(m llms.MessageContent) (string, bool) {
	if len(m.Parts) != 1 {
		return "", false
	}
	text, ok := m.Parts[0].(llms.TextContent)
	if !ok {
		return "", false
	}
	return text.Text, true
}

// decodePayload extracts and validates the "data" payload of a tool call.
// The payload may arrive as a raw object or as a JSON-encoded string that
// must be decoded first.
func decodePayload(arguments string, schema Schema, tool string) (map[string]any, *Diagnostic) {
	var wrapper map[string]any
	if err := sonic.Unmarshal([]byte(arguments), &wrapper); err != nil {
		return nil, &Diagnostic{Tool: tool, Message: fmt.Sprintf("invalid arguments JSON: %v", err)}
	}

	raw, ok := wrapper[DataKey]
	if !ok {
		return nil, &Diagnostic{Tool: tool, Message: fmt.Sprintf("arguments missing %q key", DataKey)}
	}

	var payload map[string]any
	switch v := raw.(type) {
	case map[string]any:
		payload = v
	case string:
		if err := sonic.Unmarshal([]byte(v), &payload); err != nil {
			return nil, &Diagnostic{Tool: tool, Message: fmt.Sprintf("data string is not valid JSON: %v", err)}
		}
	default:
		return nil, &Diagnostic{Tool: tool, Message: fmt.Sprintf("data must be an object or JSON string, got %T", raw)}
	}

	if err := schema.Validate(payload); err != nil {
		return nil, &Diagnostic{Tool: tool, Message: err.Error()}
	}
	return payload, nil
}
