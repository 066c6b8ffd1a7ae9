// Package persona implements the AI-simulated user: a model-driven
// collaborator that generates the human side of a conversation from a
// persona description. Reply generation reuses the tool-calling protocol
// engine with a single-field result schema, so the simulated user's message
// is extracted structurally rather than scraped from free text.
package persona

import (
	"context"
	"fmt"
	"strings"

	"github.com/mykhaliev/agent-eval/judge"
	"github.com/mykhaliev/agent-eval/model"
	"github.com/mykhaliev/agent-eval/protocol"
	"github.com/tmc/langchaingo/llms"
)

const defaultPromptTemplate = `You are playing the role of a human user in a conversation with an AI agent. Stay in character at all times.

Persona: {{name}}
{{#if description}}Background: {{description}}
{{/if}}{{#if goal}}Your goal in this conversation: {{goal}}
{{/if}}
Write the next message you, the user, would send. Keep it natural and conversational; do not break character or mention that you are simulated.`

var replySchema = protocol.Schema{
	Properties: map[string]protocol.Property{
		"message": {Type: "string", Description: "The next user message, in character."},
	},
	Required: []string{"message"},
}

// Persona generates user-side replies for the orchestrator.
type Persona struct {
	Name         string
	Description  string
	Goal         string
	SystemPrompt string // overrides the default template when set
	LLM          llms.Model
}

// New builds a persona from its declarative config. The system prompt is the
// config's own prompt, the loaded file body, or the default template rendered
// with the persona fields.
func New(cfg model.PersonaConfig, llm llms.Model) (*Persona, error) {
	p := &Persona{
		Name:         cfg.Name,
		Description:  cfg.Description,
		Goal:         cfg.Goal,
		SystemPrompt: cfg.SystemPrompt,
		LLM:          llm,
	}

	if cfg.File != "" {
		loaded, err := Load(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("persona %q: %w", cfg.Name, err)
		}
		if p.Description == "" {
			p.Description = loaded.Metadata.Description
		}
		if p.Goal == "" {
			p.Goal = loaded.Metadata.Goal
		}
		if p.SystemPrompt == "" {
			p.SystemPrompt = loaded.Body
		}
	}

	if p.Name == "" {
		return nil, fmt.Errorf("persona is missing name")
	}
	return p, nil
}

func (p *Persona) prompt() string {
	template := p.SystemPrompt
	if template == "" {
		template = defaultPromptTemplate
	}
	return model.RenderTemplate(template, map[string]string{
		"name":        p.Name,
		"description": p.Description,
		"goal":        p.Goal,
	})
}

// NextInput generates the next user message given the conversation so far.
// Implements the orchestrator's user-simulator contract.
func (p *Persona) NextInput(ctx context.Context, tctx model.TurnContext) (any, error) {
	var sb strings.Builder
	sb.WriteString("CONVERSATION SO FAR\n===================\n")
	if len(tctx.History) == 0 {
		sb.WriteString("(none yet — open the conversation)\n")
	} else {
		sb.WriteString(judge.RenderTranscript(tctx.History))
	}
	sb.WriteString("\nProduce your next message as the user.\n")

	engine := &protocol.Engine{
		LLM:    p.LLM,
		Result: replySchema,
	}

	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, p.prompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, sb.String()),
	}

	result, _, err := engine.Run(ctx, msgs).Collect()
	if err != nil {
		return nil, fmt.Errorf("persona %q failed to generate a reply: %w", p.Name, err)
	}

	message, ok := result["message"].(string)
	if !ok || strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("persona %q produced an empty reply", p.Name)
	}
	return message, nil
}
