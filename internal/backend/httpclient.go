package backend

import (
	"log/slog"
	"time"

	"resty.dev/v3"
)

const (
	// Default retry configuration
	defaultRetryCount       = 3
	defaultRetryWaitTime    = 1 * time.Second
	defaultRetryMaxWaitTime = 10 * time.Second
	defaultRequestTimeout   = 60 * time.Second
)

// RetryConfig configures transport level retries of single requests.
type RetryConfig struct {
	Count       int
	WaitTime    time.Duration
	MaxWaitTime time.Duration
}

// DefaultRetryConfig returns the retry configuration used when none is given
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Count:       defaultRetryCount,
		WaitTime:    defaultRetryWaitTime,
		MaxWaitTime: defaultRetryMaxWaitTime,
	}
}

// NewHTTPClient creates a new HTTP client for the backend API with retry
// logic and exponential backoff
func NewHTTPClient(baseURL string, retry RetryConfig) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(defaultRequestTimeout).
		SetRetryCount(retry.Count).
		SetRetryWaitTime(retry.WaitTime).
		SetRetryMaxWaitTime(retry.MaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook)

	return client
}

// retryCondition determines whether a request should be retried based on the response and error
func retryCondition(r *resty.Response, err error) bool {
	// Retry on network errors
	if err != nil {
		return true
	}

	switch code := r.StatusCode(); {
	case code >= 500:
		return true
	case code == 429, code == 408:
		return true
	default:
		// Task failures come back as 4xx with a message; retrying won't help
		return false
	}
}

// retryHook logs retry attempts for observability
func retryHook(r *resty.Response, err error) {
	if err != nil {
		slog.Debug("retrying backend request due to error",
			"url", r.Request.URL,
			"attempt", r.Request.Attempt,
			"error", err.Error())
		return
	}

	slog.Debug("retrying backend request due to status code",
		"url", r.Request.URL,
		"attempt", r.Request.Attempt,
		"status_code", r.StatusCode())
}
