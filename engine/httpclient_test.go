package engine

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do429(t *testing.T, headers map[string]string) *RetryAfterHTTPClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := NewRetryAfterHTTPClient(nil)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return client
}

func TestRetryAfterHTTPClient_CapturesSecondsHeader(t *testing.T) {
	client := do429(t, map[string]string{"Retry-After": "30"})

	duration, capturedAt := client.GetLastRetryAfter()
	assert.Equal(t, 30*time.Second, duration)
	assert.WithinDuration(t, time.Now(), capturedAt, time.Second)
}

func TestRetryAfterHTTPClient_PrefersMillisecondHeader(t *testing.T) {
	client := do429(t, map[string]string{
		"retry-after-ms": "1500",
		"Retry-After":    "30",
	})

	duration, _ := client.GetLastRetryAfter()
	assert.Equal(t, 1500*time.Millisecond, duration)
}

func TestRetryAfterHTTPClient_CapturesHTTPDateHeader(t *testing.T) {
	retryTime := time.Now().Add(45 * time.Second).UTC()
	client := do429(t, map[string]string{"Retry-After": retryTime.Format(time.RFC1123)})

	duration, _ := client.GetLastRetryAfter()
	assert.Greater(t, duration, 40*time.Second)
	assert.Less(t, duration, 50*time.Second)
}

func TestRetryAfterHTTPClient_IgnoresNon429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewRetryAfterHTTPClient(nil)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	duration, _ := client.GetLastRetryAfter()
	assert.Zero(t, duration)
}

func TestRetryAfterHTTPClient_ClearRetryAfter(t *testing.T) {
	client := do429(t, map[string]string{"Retry-After": "30"})

	duration, _ := client.GetLastRetryAfter()
	require.Equal(t, 30*time.Second, duration)

	client.ClearRetryAfter()
	duration, capturedAt := client.GetLastRetryAfter()
	assert.Zero(t, duration)
	assert.True(t, capturedAt.IsZero())
}

func TestRetryAfterHTTPClient_InvalidHeaderNotCaptured(t *testing.T) {
	client := do429(t, map[string]string{"Retry-After": "soon-ish"})

	duration, _ := client.GetLastRetryAfter()
	assert.Zero(t, duration)
}

func TestParseRetryAfterHeader(t *testing.T) {
	assert.Zero(t, parseRetryAfterHeader(""))
	assert.Zero(t, parseRetryAfterHeader("  "))
	assert.Equal(t, 15*time.Second, parseRetryAfterHeader("15"))
	assert.Equal(t, 15*time.Second, parseRetryAfterHeader(" 15 "))
	assert.Zero(t, parseRetryAfterHeader("0"))
	assert.Zero(t, parseRetryAfterHeader("-4"))
	assert.Zero(t, parseRetryAfterHeader("garbage"))

	t.Run("HTTP date in the future", func(t *testing.T) {
		future := time.Now().Add(20 * time.Second).UTC().Format(time.RFC1123)
		d := parseRetryAfterHeader(future)
		assert.Greater(t, d, 15*time.Second)
		assert.LessOrEqual(t, d, 20*time.Second)
	})

	t.Run("HTTP date in the past clamps to one second", func(t *testing.T) {
		past := time.Now().Add(-time.Minute).UTC().Format(time.RFC1123)
		assert.Equal(t, time.Second, parseRetryAfterHeader(past))
	})
}
