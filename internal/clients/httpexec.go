// Package clients carries shared plumbing for outbound HTTP collaborators.
package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/go-resty/resty/v2"
)

// RetryConfig configures the outbound retry policy
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// ShouldRetry retries on transport errors, 5xx and rate limits. Client-side
// rejections (4xx) are final.
func ShouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode() {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// NewExecutor creates a failsafe executor wrapping the retry policy
func NewExecutor(cfg RetryConfig) failsafe.Executor[*resty.Response] {
	retry := retrypolicy.NewBuilder[*resty.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *resty.Response, err error) bool {
			return ShouldRetry(resp, err)
		}).
		Build()

	return failsafe.With(retry)
}

// Execute runs a request function through the executor with ctx attached
func Execute(ctx context.Context, executor failsafe.Executor[*resty.Response], fn func() (*resty.Response, error)) (*resty.Response, error) {
	return executor.WithContext(ctx).Get(fn)
}
