package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mykhaliev/agent-eval/logger"
	"github.com/mykhaliev/agent-eval/model"
	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second

	// extra wait past a server-advised Retry-After, since provider token
	// buckets refill gradually
	retryAfterBuffer = 10 * time.Second
)

var retryAfterPattern = regexp.MustCompile(`retry after (\d+) seconds?`)

// RateLimitedLLM wraps an llms.Model with proactive TPM/RPM throttling and
// reactive 429 retries. Throttling is best-effort: it works from token
// estimates made before the call, and the provider may count differently, so
// 429s can still occur and the retry path handles them.
type RateLimitedLLM struct {
	wrapped    llms.Model
	tpmLimiter *rate.Limiter
	rpmLimiter *rate.Limiter
	modelName  string

	retryOn429         bool
	maxRetries         int
	retryAfterProvider RetryAfterProvider
}

// NewRateLimitedLLM wraps the model. rateLimits configures proactive
// throttling, retry configures 429 handling, modelName selects the tiktoken
// encoding for estimation.
func NewRateLimitedLLM(wrapped llms.Model, rateLimits model.RateLimitConfig, retry model.RetryConfig, modelName string) *RateLimitedLLM {
	maxRetries := retry.MaxRetries
	if retry.RetryOn429 && maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	rl := &RateLimitedLLM{
		wrapped:    wrapped,
		modelName:  modelName,
		retryOn429: retry.RetryOn429,
		maxRetries: maxRetries,
	}

	if rateLimits.TPM > 0 {
		rl.tpmLimiter = rate.NewLimiter(rate.Limit(float64(rateLimits.TPM)/60.0), rateLimits.TPM)
		logger.Logger.Info("Rate limiter configured", "type", "TPM", "limit", rateLimits.TPM)
	}
	if rateLimits.RPM > 0 {
		rl.rpmLimiter = rate.NewLimiter(rate.Limit(float64(rateLimits.RPM)/60.0), rateLimits.RPM)
		logger.Logger.Info("Rate limiter configured", "type", "RPM", "limit", rateLimits.RPM)
	}
	if retry.RetryOn429 {
		logger.Logger.Info("429 retry handling enabled", "max_retries", maxRetries)
	}
	return rl
}

// SetRetryAfterProvider links the HTTP-layer Retry-After capture, when a
// custom HTTP client is in use for the provider.
func (rl *RateLimitedLLM) SetRetryAfterProvider(provider RetryAfterProvider) {
	rl.retryAfterProvider = provider
}

// GenerateContent implements llms.Model with throttling and retry.
func (rl *RateLimitedLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if rl.rpmLimiter != nil {
		if err := rl.rpmLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	estimated := 0
	if rl.tpmLimiter != nil {
		estimated = rl.estimateInputTokens(messages)
		if estimated > 0 {
			if err := rl.tpmLimiter.WaitN(ctx, estimated); err != nil {
				return nil, err
			}
		}
	}

	response, err := rl.wrapped.GenerateContent(ctx, messages, options...)
	if err == nil {
		rl.reserveActualTokens(response, estimated)
		return response, nil
	}

	if !rl.retryOn429 || !isRateLimitError(err) {
		return nil, err
	}

	backoff := defaultInitialBackoff
	for attempt := 1; attempt <= rl.maxRetries; attempt++ {
		retryAfter := rl.extractRetryAfter(err)
		if retryAfter > 0 {
			backoff = retryAfter
		}
		if backoff > defaultMaxBackoff {
			backoff = defaultMaxBackoff
		}

		logger.Logger.Warn("429 rate limit hit, retrying",
			"attempt", attempt,
			"max_retries", rl.maxRetries,
			"wait_seconds", backoff.Seconds())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		response, err = rl.wrapped.GenerateContent(ctx, messages, options...)
		if err == nil {
			logger.Logger.Info("Request succeeded after 429 retry", "attempt", attempt)
			rl.reserveActualTokens(response, estimated)
			return response, nil
		}
		if !isRateLimitError(err) {
			return nil, err
		}
		if retryAfter == 0 {
			backoff *= 2
		}
	}

	logger.Logger.Error("429 retries exhausted", "max_retries", rl.maxRetries, "error", err.Error())
	return nil, err
}

// Call implements the llms.Model interface for plain prompt generation.
func (rl *RateLimitedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	response, err := rl.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, options...)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Content, nil
}

// reserveActualTokens charges the TPM limiter for the difference between the
// provider-reported usage and what the pre-call estimate already reserved.
func (rl *RateLimitedLLM) reserveActualTokens(response *llms.ContentResponse, estimated int) {
	if rl.tpmLimiter == nil || response == nil {
		return
	}
	actual := actualTokens(response)
	if actual > estimated {
		if r := rl.tpmLimiter.ReserveN(time.Now(), actual-estimated); r.OK() {
			logger.Logger.Debug("Reserved additional tokens",
				"estimated", estimated,
				"actual", actual,
				"delay", r.Delay())
		}
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

// extractRetryAfter prefers the HTTP Retry-After header captured by the
// wrapped client, falling back to parsing the error message text.
func (rl *RateLimitedLLM) extractRetryAfter(err error) time.Duration {
	if rl.retryAfterProvider != nil {
		if duration, capturedAt := rl.retryAfterProvider.GetLastRetryAfter(); duration > 0 {
			if time.Since(capturedAt) < 5*time.Second {
				rl.retryAfterProvider.ClearRetryAfter()
				return duration + retryAfterBuffer
			}
		}
	}

	if err == nil {
		return 0
	}
	matches := retryAfterPattern.FindStringSubmatch(err.Error())
	if len(matches) >= 2 {
		if seconds, parseErr := strconv.Atoi(matches[1]); parseErr == nil && seconds > 0 {
			return time.Duration(seconds)*time.Second + retryAfterBuffer
		}
	}
	return 0
}

// estimateInputTokens counts tokens with the model's tiktoken encoding when
// available, otherwise falls back to the 4-chars-per-token heuristic. The
// estimate includes a completion allowance and a safety margin since the
// bucket is charged before the response is known.
func (rl *RateLimitedLLM) estimateInputTokens(messages []llms.MessageContent) int {
	totalChars := 0
	inputTokens := 0

	var tkm *tiktoken.Tiktoken
	if rl.modelName != "" {
		if enc, err := tiktoken.EncodingForModel(rl.modelName); err == nil {
			tkm = enc
		}
	}

	for _, msg := range messages {
		for _, part := range msg.Parts {
			textPart, ok := part.(llms.TextContent)
			if !ok {
				continue
			}
			totalChars += len(textPart.Text)
			if tkm != nil {
				inputTokens += len(tkm.Encode(textPart.Text, nil, nil))
			}
		}
	}

	if tkm == nil {
		inputTokens = totalChars / 4
		if inputTokens < 1 && totalChars > 0 {
			inputTokens = 1
		}
	}

	// completion allowance of half the input, then a 50% margin on top
	total := inputTokens + inputTokens/2
	return total + total/2
}

func actualTokens(response *llms.ContentResponse) int {
	if response == nil || len(response.Choices) == 0 {
		return 0
	}
	info := response.Choices[0].GenerationInfo
	if info == nil {
		return 0
	}

	for _, key := range []string{"TotalTokens", "total_tokens"} {
		if v := extractInt(info[key]); v > 0 {
			return v
		}
	}
	pairs := [][2]string{
		{"PromptTokens", "CompletionTokens"},
		{"prompt_tokens", "completion_tokens"},
		{"input_tokens", "output_tokens"},
	}
	for _, pair := range pairs {
		in, out := extractInt(info[pair[0]]), extractInt(info[pair[1]])
		if in > 0 || out > 0 {
			return in + out
		}
	}
	return 0
}

func extractInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float64:
		return int(val)
	case float32:
		return int(val)
	case string:
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return 0
}

// NeedsLLMWrapper reports whether the provider config asks for throttling or
// 429 retries.
func NeedsLLMWrapper(rateLimits model.RateLimitConfig, retry model.RetryConfig) bool {
	return rateLimits.TPM > 0 || rateLimits.RPM > 0 || retry.RetryOn429
}
