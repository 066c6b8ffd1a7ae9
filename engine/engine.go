// Package engine wires an eval file into running components: LLM providers,
// MCP servers, agents, personas and the judge, then runs every case and
// produces reports.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"
	"github.com/mykhaliev/agent-eval/agent"
	"github.com/mykhaliev/agent-eval/judge"
	"github.com/mykhaliev/agent-eval/logger"
	"github.com/mykhaliev/agent-eval/model"
	"github.com/mykhaliev/agent-eval/orchestrator"
	"github.com/mykhaliev/agent-eval/persona"
	"github.com/mykhaliev/agent-eval/report"
	"github.com/mykhaliev/agent-eval/server"
	"github.com/mykhaliev/agent-eval/termination"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultConcurrency = 1
	DefaultCaseDelay   = 0 * time.Second
)

// Run loads the eval file, executes every case and writes the requested
// reports. It terminates the process with the suite's exit code.
func Run(evalPath *string, verbose *bool, reportFileName *string, reportTypes []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ValidateInputFile(*evalPath); err != nil {
		logger.Logger.Error("Invalid input file", "error", err)
		os.Exit(1)
	}

	logger.Logger.Info("Loading eval configuration")
	cfg, err := model.ParseEvalConfig(*evalPath)
	if err != nil {
		logger.Logger.Error("Failed to parse configuration", "error", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Settings.Verbose = true
	}
	if err := ValidateEvalConfig(cfg); err != nil {
		logger.Logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Logger.Info("Configuration loaded",
		"providers", len(cfg.Providers),
		"servers", len(cfg.Servers),
		"agents", len(cfg.Agents),
		"personas", len(cfg.Personas),
		"cases", len(cfg.Cases))

	staticCtx := CreateStaticTemplateContext(*evalPath, cfg.Variables)

	providers, err := InitProviders(ctx, cfg.Providers, staticCtx)
	if err != nil {
		logger.Logger.Error("Failed to initialize providers", "error", err)
		os.Exit(1)
	}

	var mcpServers map[string]*server.MCPServer
	requiredServers := getRequiredServers(cfg.Agents, cfg.Servers)
	if len(requiredServers) > 0 {
		mcpServers, err = InitServers(ctx, requiredServers, staticCtx)
		if err != nil {
			logger.Logger.Error("Failed to initialize servers", "error", err)
			os.Exit(1)
		}
		defer CleanupServers(mcpServers)
	}

	judgeLLM, err := resolveJudgeLLM(cfg, providers)
	if err != nil {
		logger.Logger.Error("Failed to resolve judge provider", "error", err)
		os.Exit(1)
	}

	simulators, err := initSimulators(cfg.Personas, providers, judgeLLM)
	if err != nil {
		logger.Logger.Error("Failed to initialize personas", "error", err)
		os.Exit(1)
	}

	logger.Logger.Info("Starting case execution")
	results := runCases(ctx, cfg, providers, mcpServers, judgeLLM, simulators, staticCtx)

	logger.Logger.Info("Generating reports")
	if err := writeReports(results, *evalPath, *reportFileName, reportTypes); err != nil {
		logger.Logger.Error("Failed to generate reports", "error", err)
		os.Exit(1)
	}

	os.Exit(exitCode(results, cfg.Criteria))
}

func runCases(
	ctx context.Context,
	cfg *model.EvalConfig,
	providers map[string]llms.Model,
	mcpServers map[string]*server.MCPServer,
	judgeLLM llms.Model,
	simulators map[string]orchestrator.UserSimulator,
	staticCtx map[string]string,
) []model.CaseRun {
	agentDefs := make(map[string]model.AgentConfig)
	for _, a := range cfg.Agents {
		agentDefs[a.Name] = a
	}

	serverList := make([]*server.MCPServer, 0, len(mcpServers))
	for _, s := range mcpServers {
		serverList = append(serverList, s)
	}

	concurrency := cfg.Settings.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	caseDelay := ParseDelay(cfg.Settings.CaseDelay)

	results := make([]model.CaseRun, len(cfg.Cases))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range cfg.Cases {
		c := cfg.Cases[i]

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, c model.Case) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = runCase(ctx, &c, cfg, agentDefs, providers, serverList, judgeLLM, simulators, staticCtx)
		}(i, c)

		if caseDelay > 0 && i < len(cfg.Cases)-1 {
			time.Sleep(caseDelay)
		}
	}
	wg.Wait()

	return results
}

// runCase builds a fresh agent and orchestrator for one case. Failures that
// prevent the run from starting become failed results rather than aborting
// the suite.
func runCase(
	ctx context.Context,
	c *model.Case,
	cfg *model.EvalConfig,
	agentDefs map[string]model.AgentConfig,
	providers map[string]llms.Model,
	serverList []*server.MCPServer,
	judgeLLM llms.Model,
	simulators map[string]orchestrator.UserSimulator,
	staticCtx map[string]string,
) model.CaseRun {
	logger.Logger.Info("Running case", "case", c.ID, "name", c.Name, "agent", c.Agent)

	agentDef, ok := agentDefs[c.Agent]
	if !ok {
		return failedRun(c, fmt.Errorf("agent '%s' not found for case '%s'", c.Agent, c.ID))
	}

	llmModel, ok := providers[agentDef.Provider]
	if !ok {
		return failedRun(c, fmt.Errorf("provider '%s' not found for agent '%s'", agentDef.Provider, agentDef.Name))
	}

	templateCtx := make(map[string]string, len(staticCtx)+2)
	for k, v := range staticCtx {
		templateCtx[k] = v
	}
	templateCtx["AGENT_NAME"] = agentDef.Name
	templateCtx["CASE_ID"] = c.ID

	agentDef.SystemPrompt = model.RenderTemplate(agentDef.SystemPrompt, templateCtx)
	renderCaseInputs(c, templateCtx)

	ag := agent.New(ctx, agentDef, llmModel, serverList)

	var j *judge.Judge
	if judgeLLM != nil {
		j = &judge.Judge{
			LLM:              judgeLLM,
			PassThreshold:    caseThreshold(c, cfg.Judge),
			AgentDescription: agentDef.Description,
		}
	}

	orch := &orchestrator.Orchestrator{
		Agent:       ag,
		Judge:       j,
		Termination: &termination.Evaluator{Judge: j},
		Simulators:  simulators,
	}

	res, err := orch.Run(ctx, c)
	if err != nil {
		logger.Logger.Warn("Case failed", "case", c.ID, "error", err)
		if res == nil {
			return failedRun(c, err)
		}
	}

	if res.Passed {
		logger.Logger.Info("Case PASSED", "case", c.ID, "score", res.OverallScore)
	} else {
		logger.Logger.Warn("Case FAILED", "case", c.ID, "score", res.OverallScore, "error", res.Error)
	}

	return model.CaseRun{AgentName: agentDef.Name, Result: res}
}

func failedRun(c *model.Case, err error) model.CaseRun {
	now := time.Now()
	return model.CaseRun{
		AgentName: c.Agent,
		Result: &model.EvaluationResult{
			Case:      c,
			Error:     err.Error(),
			StartTime: now,
			EndTime:   now,
		},
	}
}

// renderCaseInputs applies the template context to the string inputs of a
// case, so eval files can reference variables and environment values.
func renderCaseInputs(c *model.Case, templateCtx map[string]string) {
	if s, ok := c.Input.(string); ok {
		c.Input = model.RenderTemplate(s, templateCtx)
	}
	for i := range c.FollowUps {
		if s, ok := c.FollowUps[i].Value.(string); ok {
			c.FollowUps[i].Value = model.RenderTemplate(s, templateCtx)
		}
	}
}

func caseThreshold(c *model.Case, jc model.JudgeConfig) float64 {
	if c.PassThreshold > 0 {
		return c.PassThreshold
	}
	if jc.PassThreshold > 0 {
		return jc.PassThreshold
	}
	return judge.DefaultPassThreshold
}

func resolveJudgeLLM(cfg *model.EvalConfig, providers map[string]llms.Model) (llms.Model, error) {
	if cfg.Judge.Provider == "" {
		if configNeedsJudge(cfg) {
			return nil, fmt.Errorf("judge provider is required: cases declare graded criteria or natural language conditions")
		}
		return nil, nil
	}
	llmModel, ok := providers[cfg.Judge.Provider]
	if !ok {
		return nil, fmt.Errorf("judge provider '%s' not found", cfg.Judge.Provider)
	}
	return llmModel, nil
}

// configNeedsJudge reports whether any case requires a model call at grading
// or termination time.
func configNeedsJudge(cfg *model.EvalConfig) bool {
	for _, c := range cfg.Cases {
		for _, cond := range c.EndWhen {
			if cond.Type == model.ConditionNaturalLanguage {
				return true
			}
		}
		for _, crit := range c.Criteria {
			if crit.Validator == nil {
				return true
			}
		}
	}
	return false
}

func initSimulators(
	personaConfigs []model.PersonaConfig,
	providers map[string]llms.Model,
	judgeLLM llms.Model,
) (map[string]orchestrator.UserSimulator, error) {
	if len(personaConfigs) == 0 {
		return nil, nil
	}

	simulators := make(map[string]orchestrator.UserSimulator, len(personaConfigs))
	for _, pc := range personaConfigs {
		llmModel := judgeLLM
		if pc.Provider != "" {
			var ok bool
			llmModel, ok = providers[pc.Provider]
			if !ok {
				return nil, fmt.Errorf("provider '%s' not found for persona '%s'", pc.Provider, pc.Name)
			}
		}
		if llmModel == nil {
			return nil, fmt.Errorf("persona '%s' has no provider and no judge provider is configured", pc.Name)
		}

		p, err := persona.New(pc, llmModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create persona '%s': %w", pc.Name, err)
		}
		if _, exists := simulators[p.Name]; exists {
			return nil, fmt.Errorf("duplicate persona name: %s", p.Name)
		}
		simulators[p.Name] = p
		logger.Logger.Info("Persona initialized", "name", p.Name)
	}
	return simulators, nil
}

func getRequiredServers(agents []model.AgentConfig, allServers []model.Server) []model.Server {
	usedServerNames := make(map[string]bool)
	for _, a := range agents {
		for _, s := range a.Servers {
			usedServerNames[s.Name] = true
		}
	}

	requiredServers := make([]model.Server, 0)
	for _, s := range allServers {
		if usedServerNames[s.Name] {
			requiredServers = append(requiredServers, s)
		} else {
			logger.Logger.Warn("Server defined but not used by any agent, will not be initialized",
				"server_name", s.Name,
				"server_type", s.Type)
		}
	}
	return requiredServers
}

func ValidateInputFile(path string) error {
	if path == "" {
		return fmt.Errorf("input file path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		return fmt.Errorf("cannot access file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", path)
	}

	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unexpected file extension: %s", ext)
	}
	return nil
}

func ValidateEvalConfig(cfg *model.EvalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("no agents configured")
	}
	if len(cfg.Cases) == 0 {
		return fmt.Errorf("no cases configured")
	}
	return nil
}

func ValidateReportType(reportType string) error {
	if reportType != "json" && reportType != "md" {
		return fmt.Errorf("unknown type %s, supported types are: json, md", reportType)
	}
	return nil
}

func InitProviders(ctx context.Context, providerConfigs []model.Provider, templateCtx map[string]string) (map[string]llms.Model, error) {
	if len(providerConfigs) == 0 {
		return nil, fmt.Errorf("no providers to initialize")
	}

	logger.Logger.Info("Initializing providers", "count", len(providerConfigs))
	providers := make(map[string]llms.Model)

	for i, p := range providerConfigs {
		p.Name = model.RenderTemplate(p.Name, templateCtx)
		p.Token = model.RenderTemplate(p.Token, templateCtx)
		p.Model = model.RenderTemplate(p.Model, templateCtx)
		p.BaseURL = model.RenderTemplate(p.BaseURL, templateCtx)
		p.Version = model.RenderTemplate(p.Version, templateCtx)
		p.ProjectID = model.RenderTemplate(p.ProjectID, templateCtx)
		p.Location = model.RenderTemplate(p.Location, templateCtx)
		p.CredentialsPath = model.RenderTemplate(p.CredentialsPath, templateCtx)
		p.AuthType = model.RenderTemplate(p.AuthType, templateCtx)

		if p.Name == "" {
			return nil, fmt.Errorf("provider at index %d has empty name", i)
		}
		if _, exists := providers[p.Name]; exists {
			return nil, fmt.Errorf("duplicate provider name: %s", p.Name)
		}

		llmModel, err := CreateProvider(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider '%s': %w", p.Name, err)
		}
		providers[p.Name] = llmModel
		logger.Logger.Info("Provider initialized", "name", p.Name, "type", p.Type, "model", p.Model)
	}

	return providers, nil
}

func CreateProvider(ctx context.Context, p model.Provider) (llms.Model, error) {
	// Vertex and Azure with Entra ID auth are the only tokenless providers.
	isEntraIDAuth := p.Type == model.ProviderAzure && strings.ToLower(p.AuthType) == "entra_id"
	if p.Type != model.ProviderVertex && !isEntraIDAuth && p.Token == "" {
		return nil, fmt.Errorf("provider token is empty")
	}
	if p.Model == "" {
		return nil, fmt.Errorf("provider model is empty")
	}

	var retryAfterClient *RetryAfterHTTPClient
	if p.Retry.RetryOn429 {
		retryAfterClient = NewRetryAfterHTTPClient(nil)
	}

	var llmModel llms.Model
	var err error

	switch p.Type {
	case model.ProviderGroq:
		opts := []openai.Option{
			openai.WithToken(p.Token),
			openai.WithModel(p.Model),
		}
		if retryAfterClient != nil {
			opts = append(opts, openai.WithHTTPClient(retryAfterClient))
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		} else {
			opts = append(opts, openai.WithBaseURL("https://api.groq.com/openai/v1"))
		}
		llmModel, err = openai.New(opts...)

	case model.ProviderGoogle:
		googleOpts := []googleai.Option{
			googleai.WithAPIKey(p.Token),
			googleai.WithDefaultModel(p.Model),
		}
		if retryAfterClient != nil {
			googleOpts = append(googleOpts, googleai.WithHTTPClient(retryAfterClient.wrapped))
		}
		llmModel, err = googleai.New(ctx, googleOpts...)

	case model.ProviderVertex:
		llmModel, err = vertex.New(
			ctx,
			googleai.WithDefaultModel(p.Model),
			googleai.WithCloudProject(p.ProjectID),
			googleai.WithCloudLocation(p.Location),
			googleai.WithCredentialsFile(p.CredentialsPath),
		)

	case model.ProviderAnthropic:
		opts := []anthropic.Option{
			anthropic.WithModel(p.Model),
			anthropic.WithToken(p.Token),
		}
		if retryAfterClient != nil {
			opts = append(opts, anthropic.WithHTTPClient(retryAfterClient))
		}
		llmModel, err = anthropic.New(opts...)

	case model.ProviderAmazonAnthropic:
		var cfg aws.Config
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(p.Location),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				p.Token,
				p.Secret,
				"",
			)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		brc := bedrockruntime.NewFromConfig(cfg)
		llmModel, err = bedrock.New(
			bedrock.WithClient(brc),
			bedrock.WithModel(p.Model),
		)

	case model.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(p.Token),
			openai.WithModel(p.Model),
		}
		if retryAfterClient != nil {
			opts = append(opts, openai.WithHTTPClient(retryAfterClient))
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		llmModel, err = openai.New(opts...)

	case model.ProviderAzure:
		if p.Version == "" {
			return nil, fmt.Errorf("Azure provider requires version")
		}
		if p.BaseURL == "" {
			return nil, fmt.Errorf("Azure provider requires base URL")
		}

		opts := []openai.Option{
			openai.WithModel(p.Model),
			openai.WithAPIVersion(p.Version),
			openai.WithBaseURL(p.BaseURL),
		}
		if retryAfterClient != nil {
			opts = append(opts, openai.WithHTTPClient(retryAfterClient))
		}

		if isEntraIDAuth {
			cred, credErr := azidentity.NewDefaultAzureCredential(nil)
			if credErr != nil {
				return nil, fmt.Errorf("failed to create Azure credential: %w", credErr)
			}
			token, tokenErr := cred.GetToken(ctx, policy.TokenRequestOptions{
				Scopes: []string{"https://cognitiveservices.azure.com/.default"},
			})
			if tokenErr != nil {
				return nil, fmt.Errorf("failed to get Azure token: %w", tokenErr)
			}
			opts = append(opts, openai.WithAPIType(openai.APITypeAzureAD))
			opts = append(opts, openai.WithToken(token.Token))
		} else {
			if p.Token == "" {
				return nil, fmt.Errorf("Azure provider requires token when using api_key authentication")
			}
			opts = append(opts, openai.WithAPIType(openai.APITypeAzure))
			opts = append(opts, openai.WithToken(p.Token))
		}
		llmModel, err = openai.New(opts...)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
	}

	if err != nil {
		return nil, err
	}
	if llmModel == nil {
		return nil, fmt.Errorf("provider created but model is nil")
	}

	if NeedsLLMWrapper(p.RateLimits, p.Retry) {
		logger.Logger.Info("Wrapping provider with rate limiter/retry handler",
			"name", p.Name,
			"tpm", p.RateLimits.TPM,
			"rpm", p.RateLimits.RPM,
			"retry_on_429", p.Retry.RetryOn429)
		rateLimitedLLM := NewRateLimitedLLM(llmModel, p.RateLimits, p.Retry, p.Model)
		if retryAfterClient != nil {
			rateLimitedLLM.SetRetryAfterProvider(retryAfterClient)
		}
		llmModel = rateLimitedLLM
	}

	return llmModel, nil
}

// ServerFactory creates MCP servers.
type ServerFactory interface {
	NewMCPServer(ctx context.Context, config model.Server) (*server.MCPServer, error)
}

type DefaultServerFactory struct{}

func (f *DefaultServerFactory) NewMCPServer(ctx context.Context, config model.Server) (*server.MCPServer, error) {
	return server.NewMCPServer(ctx, config)
}

var serverFactory ServerFactory = &DefaultServerFactory{}

// SetServerFactory allows tests to inject mock factories.
func SetServerFactory(factory ServerFactory) {
	serverFactory = factory
}

func InitServers(ctx context.Context, serverConfigs []model.Server, templateCtx map[string]string) (map[string]*server.MCPServer, error) {
	if len(serverConfigs) == 0 {
		return nil, fmt.Errorf("no servers to initialize")
	}

	logger.Logger.Info("Initializing servers", "count", len(serverConfigs))
	servers := make(map[string]*server.MCPServer)

	for i, s := range serverConfigs {
		s.Name = model.RenderTemplate(s.Name, templateCtx)
		s.Command = model.RenderTemplate(s.Command, templateCtx)
		s.URL = model.RenderTemplate(s.URL, templateCtx)
		s.ServerDelay = model.RenderTemplate(s.ServerDelay, templateCtx)
		s.ProcessDelay = model.RenderTemplate(s.ProcessDelay, templateCtx)
		for k := range s.Headers {
			s.Headers[k] = model.RenderTemplate(s.Headers[k], templateCtx)
		}

		if s.Name == "" {
			return nil, fmt.Errorf("server at index %d has empty name", i)
		}
		if _, exists := servers[s.Name]; exists {
			return nil, fmt.Errorf("duplicate server name: %s", s.Name)
		}

		mcpServer, err := serverFactory.NewMCPServer(ctx, s)
		if err != nil {
			CleanupServers(servers)
			return nil, fmt.Errorf("failed to create server '%s': %w", s.Name, err)
		}
		servers[s.Name] = mcpServer
		logger.Logger.Info("Server initialized", "name", s.Name)
	}

	return servers, nil
}

func CleanupServers(servers map[string]*server.MCPServer) {
	if len(servers) == 0 {
		return
	}

	logger.Logger.Info("Shutting down servers", "count", len(servers))
	for name, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Close(); err != nil {
			logger.Logger.Warn("Error closing server", "name", name, "error", err)
		}
	}
}

// CreateStaticTemplateContext builds the template context available before
// execution begins: environment variables, RUN_ID, TEMP_DIR, EVAL_DIR and
// user variables from the config. Variables may themselves reference earlier
// values.
func CreateStaticTemplateContext(sourceFile string, variables map[string]string) map[string]string {
	templateCtx := model.GetAllEnv()
	templateCtx["RUN_ID"] = uuid.New().String()
	templateCtx["TEMP_DIR"] = os.TempDir()

	if sourceFile != "" {
		if absPath, err := filepath.Abs(sourceFile); err == nil {
			templateCtx["EVAL_DIR"] = filepath.Dir(absPath)
		}
	}

	for k, v := range variables {
		templateCtx[k] = model.RenderTemplate(v, templateCtx)
	}
	return templateCtx
}

func writeReports(results []model.CaseRun, evalPath, reportFileName string, reportTypes []string) error {
	if len(results) == 0 {
		return fmt.Errorf("no case results to report")
	}

	gen := report.NewGenerator(evalPath)
	gen.PrintConsoleReport(results)

	if reportFileName == "" {
		absPath, err := filepath.Abs(evalPath)
		if err != nil {
			return err
		}
		reportDir := filepath.Join(filepath.Dir(absPath), "eval_results")
		if err := os.MkdirAll(reportDir, 0755); err != nil {
			return fmt.Errorf("failed to create eval_results directory: %w", err)
		}
		reportFileName = filepath.Join(reportDir, "report")
	}

	for _, rt := range reportTypes {
		var content string
		var err error
		switch rt {
		case "json":
			content, err = gen.GenerateJSONReport(results)
		case "md":
			content = gen.GenerateMarkdownReport(results)
		default:
			err = fmt.Errorf("unknown report type %s", rt)
		}
		if err != nil {
			return err
		}

		outputPath := reportFileName + "." + rt
		if err := os.WriteFile(outputPath, []byte(content), logger.FilePermission); err != nil {
			return fmt.Errorf("failed to write report file: %w", err)
		}
		logger.Logger.Info("Report written", "path", outputPath)
	}
	return nil
}

// exitCode derives the process exit code: the suite success_rate criterion
// when configured, otherwise any failed case fails the run.
func exitCode(results []model.CaseRun, criteria model.SuiteCriteria) int {
	if criteria.SuccessRate == "" {
		if HasFailures(results) {
			logger.Logger.Warn("Evaluation completed with failures")
			return 1
		}
		logger.Logger.Info("All cases passed")
		return 0
	}

	required, err := strconv.ParseFloat(criteria.SuccessRate, 64)
	if err != nil {
		logger.Logger.Error("Failed to parse criteria success rate", "error", err)
		if HasFailures(results) {
			return 1
		}
		return 0
	}

	passed := 0
	for _, r := range results {
		if r.Result != nil && r.Result.Passed {
			passed++
		}
	}
	passRate := float64(passed) / float64(len(results))
	if passRate >= required {
		logger.Logger.Info("Suite success rate matched", "criteria", required, "actual", passRate)
		return 0
	}
	logger.Logger.Warn("Suite success rate not matched", "criteria", required, "actual", passRate)
	return 1
}

func HasFailures(results []model.CaseRun) bool {
	for _, r := range results {
		if r.Result == nil || !r.Result.Passed {
			return true
		}
	}
	return false
}

func ParseDelay(delayStr string) time.Duration {
	if delayStr == "" {
		return DefaultCaseDelay
	}

	dur, err := time.ParseDuration(delayStr)
	if err != nil {
		logger.Logger.Warn("Invalid delay, using default",
			"delay", delayStr,
			"default", DefaultCaseDelay,
			"error", err)
		return DefaultCaseDelay
	}
	if dur < 0 {
		return 0
	}
	return dur
}
