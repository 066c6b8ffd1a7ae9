// Package agent implements the LLM agent under test: a tool-calling loop over
// a langchaingo model with tools discovered from the agent's MCP servers.
// One instance holds the conversation for one case; create a fresh agent per
// case run.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/life4/genesis/slices"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mykhaliev/agent-eval/logger"
	"github.com/mykhaliev/agent-eval/model"
	"github.com/mykhaliev/agent-eval/orchestrator"
	"github.com/mykhaliev/agent-eval/server"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultMaxIterations = 10
	ResultPreviewLength  = 2000
	ApproxTokenDivisor   = 4
)

// LLMAgent is a conversation-holding agent. Execute appends the user input to
// the running message history, so multi-turn cases see a continuous
// conversation rather than isolated prompts.
type LLMAgent struct {
	Name          string
	Provider      string
	LLM           llms.Model
	MaxIterations int

	mcpServers   []*server.MCPServer
	serverTools  map[string][]mcp.Tool
	toolToServer map[string]string
	msgs         []llms.MessageContent
}

var _ orchestrator.Agent = (*LLMAgent)(nil)

// New builds an agent from its config, resolving every requested MCP server
// and listing its tools. A server that cannot be resolved or listed is
// skipped with a logged error rather than failing the whole agent.
func New(ctx context.Context, cfg model.AgentConfig, llm llms.Model, servers []*server.MCPServer) *LLMAgent {
	ag := &LLMAgent{
		Name:          cfg.Name,
		Provider:      cfg.Provider,
		LLM:           llm,
		MaxIterations: cfg.MaxIterations,
		serverTools:   make(map[string][]mcp.Tool),
		toolToServer:  make(map[string]string),
	}
	if ag.MaxIterations <= 0 {
		ag.MaxIterations = DefaultMaxIterations
	}

	logger.Logger.Info("Creating agent",
		"agent", cfg.Name,
		"provider", cfg.Provider,
		"servers_requested", len(cfg.Servers))

	for _, srv := range cfg.Servers {
		mcpServer, err := slices.Find(servers, func(s *server.MCPServer) bool {
			return s.Name == srv.Name
		})
		if err != nil {
			logger.Logger.Error("Server not found",
				"server", srv.Name,
				"agent", ag.Name,
				"error", err)
			continue
		}

		ag.mcpServers = append(ag.mcpServers, mcpServer)

		toolsRes, err := mcpServer.Client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			logger.Logger.Error("Failed to list tools",
				"server", srv.Name,
				"error", err)
			continue
		}
		if toolsRes == nil {
			logger.Logger.Warn("No tools response from server", "server", srv.Name)
			continue
		}

		allowedTools := slices.Filter(toolsRes.Tools, func(tool mcp.Tool) bool {
			return len(srv.AllowedTools) == 0 || slices.Contains(srv.AllowedTools, tool.Name)
		})
		if len(allowedTools) == 0 {
			logger.Logger.Warn("No allowed tools for server", "server", srv.Name)
		}

		ag.serverTools[srv.Name] = append(ag.serverTools[srv.Name], allowedTools...)
		for _, tool := range allowedTools {
			if existing, exists := ag.toolToServer[tool.Name]; exists {
				logger.Logger.Warn("Tool name collision detected",
					"tool", tool.Name,
					"existing_server", existing,
					"new_server", srv.Name)
				continue
			}
			ag.toolToServer[tool.Name] = srv.Name
		}

		allowedToolNames := slices.Map(allowedTools, func(tool mcp.Tool) string {
			return tool.Name
		})
		logger.Logger.Info("Agent tools configured",
			"agent", ag.Name,
			"server", srv.Name,
			"tools", strings.Join(allowedToolNames, ", "))
	}

	if cfg.SystemPrompt != "" {
		ag.msgs = append(ag.msgs, llms.TextParts(llms.ChatMessageTypeSystem, cfg.SystemPrompt))
	}

	logger.Logger.Info("Agent initialization complete",
		"agent", ag.Name,
		"servers", len(ag.mcpServers),
		"tools", len(ag.toolToServer))
	return ag
}

// Execute runs one conversational turn: the input is appended as a user
// message and the tool-calling loop runs until the model answers without
// requesting tools or MaxIterations is reached.
func (a *LLMAgent) Execute(ctx context.Context, input any) (*orchestrator.AgentResponse, error) {
	if a.LLM == nil {
		return nil, fmt.Errorf("LLM model is not initialized")
	}

	startTime := time.Now()
	a.msgs = append(a.msgs, llms.TextParts(llms.ChatMessageTypeHuman, renderInput(input)))

	tools := a.llmTools()
	final := ""

	for iteration := 1; iteration <= a.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled on iteration %d: %w", iteration, ctx.Err())
		}

		var opts []llms.CallOption
		if len(tools) > 0 {
			opts = append(opts, llms.WithTools(tools))
		}
		resp, err := a.LLM.GenerateContent(ctx, a.msgs, opts...)
		if err != nil {
			return nil, fmt.Errorf("LLM generation error (iteration %d): %w", iteration, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("LLM returned no choices (iteration %d)", iteration)
		}

		choice := resp.Choices[0]
		if strings.TrimSpace(choice.Content) != "" {
			a.msgs = append(a.msgs, llms.TextParts(llms.ChatMessageTypeAI, choice.Content))
		}

		if len(choice.ToolCalls) == 0 {
			final = choice.Content
			logger.Logger.Debug("Final answer received",
				"agent", a.Name,
				"iteration", iteration,
				"preview", truncateString(final, ResultPreviewLength))
			return &orchestrator.AgentResponse{
				Result:     parseOutput(final),
				TokensUsed: len(final) / ApproxTokenDivisor,
				LatencyMs:  time.Since(startTime).Milliseconds(),
			}, nil
		}

		for _, call := range choice.ToolCalls {
			logger.Logger.Debug("Executing tool",
				"agent", a.Name,
				"iteration", iteration,
				"tool", call.FunctionCall.Name)

			toolRes, toolErr := a.callTool(ctx, call.FunctionCall.Name, call.FunctionCall.Arguments)
			if toolErr != nil {
				toolRes = fmt.Sprintf("tool error: %v", toolErr)
				logger.Logger.Error("Tool execution failed",
					"agent", a.Name,
					"tool", call.FunctionCall.Name,
					"error", toolErr)
			}

			a.msgs = append(a.msgs, llms.MessageContent{
				Role:  llms.ChatMessageTypeAI,
				Parts: []llms.ContentPart{call},
			})
			a.msgs = append(a.msgs, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						Name:       call.FunctionCall.Name,
						ToolCallID: call.ID,
						Content:    toolRes,
					},
				},
			})
		}
	}

	return nil, fmt.Errorf("reached maximum iterations (%d) without final answer", a.MaxIterations)
}

func (a *LLMAgent) callTool(ctx context.Context, toolName, argumentsJSON string) (string, error) {
	serverName, exists := a.toolToServer[toolName]
	if !exists {
		return "", fmt.Errorf("tool '%s' not found in any registered server", toolName)
	}

	toolServer, err := slices.Find(a.mcpServers, func(srv *server.MCPServer) bool {
		return srv.Name == serverName
	})
	if err != nil {
		return "", fmt.Errorf("MCP server '%s' not found for tool '%s': %w", serverName, toolName, err)
	}

	var arguments any
	if argumentsJSON != "" && argumentsJSON != "{}" {
		if err := sonic.UnmarshalString(argumentsJSON, &arguments); err != nil {
			return "", fmt.Errorf("failed to parse arguments for tool '%s': %w", toolName, err)
		}
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	result, err := toolServer.Client.CallTool(ctx, mcp.CallToolRequest{
		Request: mcp.Request{Method: "tools/call"},
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      toolName,
			Arguments: arguments,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to call MCP tool '%s' on server '%s': %w", toolName, serverName, err)
	}

	marshaled, err := sonic.MarshalString(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal MCP tool result: %w", err)
	}
	return marshaled, nil
}

func (a *LLMAgent) llmTools() []llms.Tool {
	result := make([]llms.Tool, 0)
	for _, tools := range a.serverTools {
		for _, t := range tools {
			params := map[string]any{
				"type":       t.InputSchema.Type,
				"properties": t.InputSchema.Properties,
			}
			if len(t.InputSchema.Required) > 0 {
				params["required"] = t.InputSchema.Required
			}
			result = append(result, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			})
		}
	}
	return result
}

// parseOutput returns structured data when the final answer is JSON, so that
// field path termination conditions and validators can address into it. A
// non-JSON answer stays a plain string.
func parseOutput(text string) any {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := sonic.UnmarshalString(trimmed, &parsed); err == nil {
			return parsed
		}
	}
	return text
}

func renderInput(input any) string {
	if s, ok := input.(string); ok {
		return s
	}
	if marshaled, err := sonic.MarshalString(input); err == nil {
		return marshaled
	}
	return fmt.Sprintf("%v", input)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
