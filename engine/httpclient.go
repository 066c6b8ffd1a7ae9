package engine

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mykhaliev/agent-eval/logger"
)

const retryAfterStaleAfter = 60 * time.Second

// RetryAfterHTTPClient wraps an http.Client to capture Retry-After headers
// from 429 responses. langchaingo does not expose response headers in its
// errors, so the value is intercepted here and read back by the rate-limited
// model wrapper.
type RetryAfterHTTPClient struct {
	wrapped *http.Client

	mu               sync.RWMutex
	lastRetryAfter   time.Duration
	lastRetryAfterAt time.Time
}

func NewRetryAfterHTTPClient(wrapped *http.Client) *RetryAfterHTTPClient {
	if wrapped == nil {
		wrapped = &http.Client{Timeout: 30 * time.Second}
	}
	return &RetryAfterHTTPClient{wrapped: wrapped}
}

// Do satisfies the Doer interface langchaingo clients accept.
func (c *RetryAfterHTTPClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.wrapped.Do(req)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if retryAfter := c.extractRetryAfter(resp); retryAfter > 0 {
			c.mu.Lock()
			c.lastRetryAfter = retryAfter
			c.lastRetryAfterAt = time.Now()
			c.mu.Unlock()
			logger.Logger.Debug("Captured Retry-After from 429 response",
				"retry_after_seconds", retryAfter.Seconds())
		}
	}
	return resp, err
}

// extractRetryAfter prefers the retry-after-ms header (Azure OpenAI,
// millisecond precision) and falls back to the standard Retry-After header.
func (c *RetryAfterHTTPClient) extractRetryAfter(resp *http.Response) time.Duration {
	if msValue := resp.Header.Get("retry-after-ms"); msValue != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(msValue)); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return parseRetryAfterHeader(resp.Header.Get("Retry-After"))
}

// GetLastRetryAfter returns the last captured duration, or zero values when
// nothing has been captured or the capture is older than a minute.
func (c *RetryAfterHTTPClient) GetLastRetryAfter() (time.Duration, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if time.Since(c.lastRetryAfterAt) > retryAfterStaleAfter {
		return 0, time.Time{}
	}
	return c.lastRetryAfter, c.lastRetryAfterAt
}

// ClearRetryAfter drops the cached value so it is not reused for an
// unrelated request.
func (c *RetryAfterHTTPClient) ClearRetryAfter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRetryAfter = 0
	c.lastRetryAfterAt = time.Time{}
}

// parseRetryAfterHeader handles both forms of the header: integer seconds
// and an HTTP-date.
func parseRetryAfterHeader(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	for _, format := range []string{time.RFC1123, time.RFC1123Z} {
		if t, err := time.Parse(format, value); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
			return time.Second
		}
	}

	logger.Logger.Warn("Could not parse Retry-After header", "value", value)
	return 0
}

// RetryAfterProvider supplies server-advised retry delays captured at the
// HTTP layer.
type RetryAfterProvider interface {
	GetLastRetryAfter() (time.Duration, time.Time)
	ClearRetryAfter()
}
