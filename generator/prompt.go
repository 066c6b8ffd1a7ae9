package generator

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/llms"
)

const systemPrompt = `You are an eval design expert for agent-eval, a Go-based AI agent evaluation framework.

Your task is to generate a complete, valid YAML "cases" block that can be used directly as an evaluation configuration.

OUTPUT RULES (strictly enforced):
1. Output ONLY valid YAML — no markdown, no explanations, no code fences.
2. Start your output with the line: cases:
3. Every case must have: id, agent, input. Ids must be unique.
4. The "agent" field must exactly match one of the configured agent names.
5. Use realistic, specific inputs that a real user would send to the agent.
6. Give every case either criteria or end_when conditions (usually both).
7. Prefer "fieldSet" / "fieldValue" conditions when the agent produces structured output; use "naturalLanguage" only for behaviour that cannot be expressed as a field check.
8. Criteria descriptions must be precise enough for a judge model to score without guessing.
9. Use follow_ups and multi-turn conditions only when complexity is "medium" or "complex".

` + caseSchema + `
` + conditionTypesDoc + `
` + criteriaDoc

// ToolInfo is a simplified representation of an MCP tool for prompt building.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  map[string]any
	Required    []string
}

// buildToolInfo converts mcp.Tool slices to a prompt-friendly representation.
func buildToolInfo(tools []mcp.Tool) []ToolInfo {
	result := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		result = append(result, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema.Properties,
			Required:    t.InputSchema.Required,
		})
	}
	return result
}

// BuildGenerationPrompt builds the system+user message pair for the LLM.
func BuildGenerationPrompt(
	cfg *GeneratorConfig,
	toolsByAgent map[string][]mcp.Tool,
	seed int64,
	attempt int,
	prevErrors []string,
) []llms.MessageContent {
	var sb strings.Builder

	// Agent and tool descriptions
	sb.WriteString("AGENT TOOLS\n===========\n")
	for _, agent := range cfg.Agents {
		tools, ok := toolsByAgent[agent.Name]
		if !ok || len(tools) == 0 {
			sb.WriteString(fmt.Sprintf("\nAgent: %q (no tools available)\n", agent.Name))
			continue
		}
		sb.WriteString(fmt.Sprintf("\nAgent: %q\n", agent.Name))
		for _, t := range buildToolInfo(tools) {
			sb.WriteString(fmt.Sprintf("  Tool: %s\n", t.Name))
			if t.Description != "" {
				sb.WriteString(fmt.Sprintf("    Description: %s\n", t.Description))
			}
			if len(t.Parameters) > 0 {
				paramsJSON, _ := sonic.Marshal(t.Parameters)
				sb.WriteString(fmt.Sprintf("    Parameters: %s\n", string(paramsJSON)))
			}
			if len(t.Required) > 0 {
				sb.WriteString(fmt.Sprintf("    Required: %s\n", strings.Join(t.Required, ", ")))
			}
		}
	}

	// Generation constraints
	sb.WriteString("\nGENERATION CONSTRAINTS\n======================\n")
	sb.WriteString(fmt.Sprintf("case_count: %d\n", cfg.Generator.CaseCount))
	sb.WriteString(fmt.Sprintf("complexity: %s\n", cfg.Generator.Complexity))
	if cfg.Generator.IncludeEdgeCases {
		sb.WriteString("include_edge_cases: true — include cases for error handling, boundary conditions, and unexpected inputs\n")
	}
	sb.WriteString(fmt.Sprintf("max_turns_per_case: %d — set max_turns at most %d and keep follow-up sequences within that bound\n",
		cfg.Generator.MaxTurnsPerCase, cfg.Generator.MaxTurnsPerCase))

	complexityGuide := map[string]string{
		"simple":  "Single-turn cases. One input, no follow_ups, graded on the final output.",
		"medium":  "Two to three turns. Use follow_ups with static values and fieldSet/fieldValue conditions to end early.",
		"complex": "Multi-turn workflows. Combine follow_ups, ordered end_when conditions, naturalLanguage conditions, and weighted criteria.",
	}
	if guide, ok := complexityGuide[cfg.Generator.Complexity]; ok {
		sb.WriteString(fmt.Sprintf("complexity guide: %s\n", guide))
	}

	if seed != 0 {
		sb.WriteString(fmt.Sprintf("\nUse this seed for any randomisation decisions: %d\n", seed))
	}

	// Retry context
	if attempt > 1 && len(prevErrors) > 0 {
		sb.WriteString(fmt.Sprintf("\nPREVIOUS ATTEMPT %d FAILED WITH ERRORS\n", attempt-1))
		sb.WriteString("Fix all of the following issues in your new output:\n")
		for _, e := range prevErrors {
			sb.WriteString(fmt.Sprintf("  - %s\n", e))
		}
	}

	sb.WriteString("\nNow generate the cases YAML block:\n")

	return []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: sb.String()}},
		},
	}
}

// ExtractYAMLFromResponse strips markdown code fences (```yaml ... ``` or ``` ... ```)
// from an LLM response, returning only the raw YAML content.
func ExtractYAMLFromResponse(content string) string {
	content = strings.TrimSpace(content)

	// Strip opening ```yaml or ``` fence
	for _, fence := range []string{"```yaml", "```yml", "```"} {
		if strings.HasPrefix(content, fence) {
			content = strings.TrimPrefix(content, fence)
			// Strip trailing ```
			if idx := strings.LastIndex(content, "```"); idx >= 0 {
				content = content[:idx]
			}
			break
		}
	}

	return strings.TrimSpace(content)
}
