// Package server manages MCP server connections for agents under test.
// Supported transports are stdio, sse and streamable http.
package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mykhaliev/agent-eval/logger"
	"github.com/mykhaliev/agent-eval/model"
)

const (
	DefaultServerInitDelay = 30 * time.Second
	ProcessStartupDelay    = 300 * time.Millisecond
	MCPClientName          = "agent-eval"
	MCPClientVersion       = "1.0.0"
	URLSchemeHTTP          = "http://"
	URLSchemeHTTPS         = "https://"
)

type MCPServer struct {
	Name         string              `json:"name"`
	Type         model.ServerType    `json:"type"`
	Command      string              `json:"command,omitempty"`
	URL          string              `json:"url,omitempty"`
	Headers      []string            `json:"headers,omitempty"`
	Client       mcpclient.MCPClient `json:"-"`
	ServerDelay  string
	ProcessDelay string
}

func NewMCPServer(ctx context.Context, serverConfig model.Server) (*MCPServer, error) {
	logger.Logger.Info("Creating MCP server",
		"server_name", serverConfig.Name,
		"server_type", serverConfig.Type)

	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}

	s := &MCPServer{
		Name:         serverConfig.Name,
		Type:         serverConfig.Type,
		Command:      serverConfig.Command,
		URL:          serverConfig.URL,
		Headers:      serverConfig.Headers,
		ServerDelay:  serverConfig.ServerDelay,
		ProcessDelay: serverConfig.ProcessDelay,
	}

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration for %s: %w", serverConfig.Name, err)
	}

	cli, err := s.createClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client for server %s: %w", serverConfig.Name, err)
	}
	s.Client = cli

	initDelay := DefaultServerInitDelay
	if serverConfig.ServerDelay != "" {
		initDelay, err = time.ParseDuration(serverConfig.ServerDelay)
		if err != nil {
			return nil, fmt.Errorf("failed to parse server delay for %s: %w", serverConfig.Name, err)
		}
	}

	initCtx, cancel := context.WithTimeout(ctx, initDelay)
	defer cancel()

	if err := s.initializeClient(initCtx); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize MCP client for server %s: %w", serverConfig.Name, err)
	}

	logger.Logger.Info("MCP server initialized", "server_name", serverConfig.Name)
	return s, nil
}

func (s *MCPServer) validate() error {
	if s.Name == "" {
		return fmt.Errorf("server name cannot be empty")
	}

	switch s.Type {
	case model.Stdio:
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("command is required for stdio server type")
		}
		if len(strings.Fields(s.Command)) == 0 {
			return fmt.Errorf("command must contain at least an executable name")
		}

	case model.SSE, model.Http:
		if s.URL == "" {
			return fmt.Errorf("URL is required for %s server type", s.Type)
		}
		if strings.TrimSpace(s.URL) != s.URL {
			return fmt.Errorf("URL contains leading or trailing whitespace")
		}
		if !strings.HasPrefix(s.URL, URLSchemeHTTP) && !strings.HasPrefix(s.URL, URLSchemeHTTPS) {
			return fmt.Errorf("invalid URL format: must start with http:// or https://, got: %s", s.URL)
		}
		for i, header := range s.Headers {
			if !strings.Contains(header, ":") {
				return fmt.Errorf("invalid header format at index %d: must contain ':' separator", i)
			}
		}

	default:
		return fmt.Errorf("unsupported server type: %s (expected: stdio, sse, or http)", s.Type)
	}

	return nil
}

func (s *MCPServer) initializeClient(ctx context.Context) error {
	if s.Client == nil {
		return fmt.Errorf("client is nil, cannot initialize")
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    MCPClientName,
		Version: MCPClientVersion,
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	response, err := s.Client.Initialize(ctx, initRequest)
	if err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	if response == nil {
		return fmt.Errorf("initialize response is nil")
	}

	logger.Logger.Debug("Server initialization successful",
		"server_name", s.Name,
		"server_info_name", response.ServerInfo.Name,
		"server_info_version", response.ServerInfo.Version,
		"protocol_version", response.ProtocolVersion)
	return nil
}

func (s *MCPServer) createClient(ctx context.Context) (mcpclient.MCPClient, error) {
	switch s.Type {
	case model.Stdio:
		return s.createStdioClient()
	case model.SSE:
		return s.createSSEClient(ctx)
	case model.Http:
		return s.createStreamableHTTPClient()
	}
	return nil, fmt.Errorf("unsupported transport type '%s' for server %s", s.Type, s.Name)
}

func (s *MCPServer) createStdioClient() (mcpclient.MCPClient, error) {
	commandParts := strings.Fields(s.Command)
	if len(commandParts) == 0 {
		return nil, fmt.Errorf("command is empty after parsing")
	}

	command := commandParts[0]
	var args []string
	if len(commandParts) > 1 {
		args = commandParts[1:]
	}

	var env []string
	stdioClient, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio client: %w", err)
	}

	if err := s.waitForProcess(); err != nil {
		return nil, err
	}
	return stdioClient, nil
}

func (s *MCPServer) createSSEClient(ctx context.Context) (mcpclient.MCPClient, error) {
	var options []transport.ClientOption

	headers := parseHeaders(s.Name, s.Headers)
	if len(headers) > 0 {
		options = append(options, transport.WithHeaders(headers))
	}

	sseClient, err := mcpclient.NewSSEMCPClient(s.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE client: %w", err)
	}

	if err := sseClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start SSE client: %w", err)
	}
	return sseClient, nil
}

func (s *MCPServer) createStreamableHTTPClient() (mcpclient.MCPClient, error) {
	httpClient, err := mcpclient.NewStreamableHttpClient(s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable HTTP client: %w", err)
	}
	if err := s.waitForProcess(); err != nil {
		return nil, err
	}
	return httpClient, nil
}

func (s *MCPServer) waitForProcess() error {
	processDelay := ProcessStartupDelay
	if s.ProcessDelay != "" {
		var err error
		processDelay, err = time.ParseDuration(s.ProcessDelay)
		if err != nil {
			return fmt.Errorf("failed to parse process delay: %w", err)
		}
	}
	time.Sleep(processDelay)
	return nil
}

func parseHeaders(serverName string, raw []string) map[string]string {
	headers := make(map[string]string)
	for i, header := range raw {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			logger.Logger.Warn("Invalid header format, skipping",
				"server_name", serverName,
				"header_index", i)
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(parts[1])
	}
	return headers
}

func (s *MCPServer) cleanup() {
	if s.Client == nil {
		return
	}
	if closer, ok := s.Client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Logger.Warn("Error closing client",
				"server_name", s.Name,
				"error", err)
		}
	}
}

func (s *MCPServer) Close() error {
	if s.Client == nil {
		return fmt.Errorf("client is nil, already closed or never initialized")
	}

	if closer, ok := s.Client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close server %s: %w", s.Name, err)
		}
		s.Client = nil
		return nil
	}
	return fmt.Errorf("client does not implement Close() interface")
}

func (s *MCPServer) IsHealthy(ctx context.Context) bool {
	if s.Client == nil {
		return false
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.Client.ListTools(healthCtx, mcp.ListToolsRequest{}); err != nil {
		logger.Logger.Warn("Health check failed",
			"server_name", s.Name,
			"error", err)
		return false
	}
	return true
}
