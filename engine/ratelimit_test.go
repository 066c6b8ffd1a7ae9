package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mykhaliev/agent-eval/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// flakyLLM fails the first failures calls with err, then succeeds.
type flakyLLM struct {
	calls    atomic.Int32
	failures int32
	err      error
	response *llms.ContentResponse
}

func (m *flakyLLM) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	n := m.calls.Add(1)
	if n <= m.failures {
		return nil, m.err
	}
	if m.response != nil {
		return m.response, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok"}}}, nil
}

func (m *flakyLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func userMsg(text string) []llms.MessageContent {
	return []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, text)}
}

func TestNeedsLLMWrapper(t *testing.T) {
	tests := []struct {
		name     string
		limits   model.RateLimitConfig
		retry    model.RetryConfig
		expected bool
	}{
		{"Nothing configured", model.RateLimitConfig{}, model.RetryConfig{}, false},
		{"TPM only", model.RateLimitConfig{TPM: 1000}, model.RetryConfig{}, true},
		{"RPM only", model.RateLimitConfig{RPM: 60}, model.RetryConfig{}, true},
		{"Retry only", model.RateLimitConfig{}, model.RetryConfig{RetryOn429: true}, true},
		{"Max retries without enable", model.RateLimitConfig{}, model.RetryConfig{MaxRetries: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NeedsLLMWrapper(tt.limits, tt.retry))
		})
	}
}

func TestRateLimitedLLM_PassthroughWithoutLimits(t *testing.T) {
	mock := &flakyLLM{}
	rl := NewRateLimitedLLM(mock, model.RateLimitConfig{}, model.RetryConfig{}, "")

	resp, err := rl.GenerateContent(context.Background(), userMsg("hello"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Content)
	assert.Equal(t, int32(1), mock.calls.Load())
}

func TestRateLimitedLLM_Call(t *testing.T) {
	mock := &flakyLLM{}
	rl := NewRateLimitedLLM(mock, model.RateLimitConfig{}, model.RetryConfig{}, "")

	out, err := rl.Call(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRateLimitedLLM_RPMThrottles(t *testing.T) {
	mock := &flakyLLM{}
	rl := NewRateLimitedLLM(mock, model.RateLimitConfig{RPM: 60}, model.RetryConfig{}, "")

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := rl.GenerateContent(ctx, userMsg("hi"))
		require.NoError(t, err)
	}
	// burst capacity covers the first calls, so this stays fast
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(3), mock.calls.Load())
}

func TestRateLimitedLLM_ContextCancellation(t *testing.T) {
	mock := &flakyLLM{}
	// burst of 1: the second call must wait a full minute
	rl := NewRateLimitedLLM(mock, model.RateLimitConfig{RPM: 1}, model.RetryConfig{}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := rl.GenerateContent(ctx, userMsg("first"))
	require.NoError(t, err)

	_, err = rl.GenerateContent(ctx, userMsg("second"))
	require.Error(t, err)
	assert.Equal(t, int32(1), mock.calls.Load())
}

func TestRateLimitedLLM_RetryOn429(t *testing.T) {
	mock := &flakyLLM{failures: 1, err: errors.New("429 too many requests")}
	rl := NewRateLimitedLLM(mock, model.RateLimitConfig{}, model.RetryConfig{RetryOn429: true, MaxRetries: 2}, "")

	resp, err := rl.GenerateContent(context.Background(), userMsg("hello"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Content)
	assert.Equal(t, int32(2), mock.calls.Load())
}

func TestRateLimitedLLM_NoRetryWhenDisabled(t *testing.T) {
	mock := &flakyLLM{failures: 1, err: errors.New("429 too many requests")}
	rl := NewRateLimitedLLM(mock, model.RateLimitConfig{}, model.RetryConfig{}, "")

	_, err := rl.GenerateContent(context.Background(), userMsg("hello"))
	require.Error(t, err)
	assert.Equal(t, int32(1), mock.calls.Load())
}

func TestRateLimitedLLM_NonRateLimitErrorNotRetried(t *testing.T) {
	mock := &flakyLLM{failures: 3, err: errors.New("invalid api key")}
	rl := NewRateLimitedLLM(mock, model.RateLimitConfig{}, model.RetryConfig{RetryOn429: true}, "")

	_, err := rl.GenerateContent(context.Background(), userMsg("hello"))
	require.Error(t, err)
	assert.Equal(t, int32(1), mock.calls.Load())
}

func TestIsRateLimitError(t *testing.T) {
	assert.False(t, isRateLimitError(nil))
	assert.False(t, isRateLimitError(errors.New("connection refused")))
	assert.True(t, isRateLimitError(errors.New("API returned unexpected status code: 429")))
	assert.True(t, isRateLimitError(errors.New("Rate limit reached for model")))
	assert.True(t, isRateLimitError(errors.New("Too Many Requests")))
}

func TestExtractRetryAfter_FromErrorMessage(t *testing.T) {
	rl := NewRateLimitedLLM(&flakyLLM{}, model.RateLimitConfig{}, model.RetryConfig{RetryOn429: true}, "")

	d := rl.extractRetryAfter(errors.New("rate limit exceeded, retry after 7 seconds"))
	assert.Equal(t, 7*time.Second+retryAfterBuffer, d)

	assert.Zero(t, rl.extractRetryAfter(errors.New("rate limit exceeded")))
	assert.Zero(t, rl.extractRetryAfter(nil))
}

type canned429Provider struct {
	duration time.Duration
	cleared  bool
}

func (p *canned429Provider) GetLastRetryAfter() (time.Duration, time.Time) {
	return p.duration, time.Now()
}

func (p *canned429Provider) ClearRetryAfter() { p.cleared = true }

func TestExtractRetryAfter_PrefersHTTPCapture(t *testing.T) {
	rl := NewRateLimitedLLM(&flakyLLM{}, model.RateLimitConfig{}, model.RetryConfig{RetryOn429: true}, "")
	provider := &canned429Provider{duration: 3 * time.Second}
	rl.SetRetryAfterProvider(provider)

	d := rl.extractRetryAfter(errors.New("retry after 99 seconds"))
	assert.Equal(t, 3*time.Second+retryAfterBuffer, d)
	assert.True(t, provider.cleared)
}

func TestEstimateInputTokens(t *testing.T) {
	t.Run("Heuristic fallback for unknown model", func(t *testing.T) {
		rl := NewRateLimitedLLM(&flakyLLM{}, model.RateLimitConfig{}, model.RetryConfig{}, "")
		// 40 chars -> 10 input tokens -> 15 with completion allowance -> 22 with margin
		est := rl.estimateInputTokens(userMsg("0123456789012345678901234567890123456789"))
		assert.Equal(t, 22, est)
	})

	t.Run("Short text counts at least one token", func(t *testing.T) {
		rl := NewRateLimitedLLM(&flakyLLM{}, model.RateLimitConfig{}, model.RetryConfig{}, "")
		assert.Greater(t, rl.estimateInputTokens(userMsg("hi")), 0)
	})

	t.Run("Empty messages", func(t *testing.T) {
		rl := NewRateLimitedLLM(&flakyLLM{}, model.RateLimitConfig{}, model.RetryConfig{}, "")
		assert.Zero(t, rl.estimateInputTokens(nil))
	})
}

func TestActualTokens(t *testing.T) {
	assert.Zero(t, actualTokens(nil))
	assert.Zero(t, actualTokens(&llms.ContentResponse{}))

	resp := func(info map[string]any) *llms.ContentResponse {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{GenerationInfo: info}}}
	}

	assert.Zero(t, actualTokens(resp(nil)))
	assert.Equal(t, 120, actualTokens(resp(map[string]any{"TotalTokens": 120})))
	assert.Equal(t, 120, actualTokens(resp(map[string]any{"total_tokens": 120})))
	assert.Equal(t, 30, actualTokens(resp(map[string]any{"PromptTokens": 20, "CompletionTokens": 10})))
	assert.Equal(t, 30, actualTokens(resp(map[string]any{"input_tokens": 20, "output_tokens": 10})))
	assert.Equal(t, 30, actualTokens(resp(map[string]any{"prompt_tokens": float64(20), "completion_tokens": float64(10)})))
}

func TestExtractInt(t *testing.T) {
	assert.Equal(t, 5, extractInt(5))
	assert.Equal(t, 5, extractInt(int32(5)))
	assert.Equal(t, 5, extractInt(int64(5)))
	assert.Equal(t, 5, extractInt(float64(5.7)))
	assert.Equal(t, 5, extractInt(float32(5)))
	assert.Equal(t, 5, extractInt("5"))
	assert.Zero(t, extractInt("five"))
	assert.Zero(t, extractInt(nil))
	assert.Zero(t, extractInt([]int{5}))
}
