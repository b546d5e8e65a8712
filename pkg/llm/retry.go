package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// RetryConfig bounds the retry behavior around a provider.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (default 3).
	MaxAttempts int
	// BaseDelay is the first backoff delay, doubled per attempt
	// (default 500ms).
	BaseDelay time.Duration
	// MaxDelay caps the backoff (default 8s).
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Second
	}
	return c
}

// RetryProvider wraps a provider with bounded exponential backoff on
// transient failures. Non-retryable errors are returned immediately.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WithRetry wraps a provider with retry behavior.
func WithRetry(inner Provider, config RetryConfig) *RetryProvider {
	return &RetryProvider{inner: inner, config: config.withDefaults()}
}

// Name returns the wrapped provider's name.
func (p *RetryProvider) Name() string { return p.inner.Name() }

// Complete retries the inner provider on transient failures.
func (p *RetryProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	delay := p.config.BaseDelay

	var lastErr error
	for attempt := 0; attempt < p.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > p.config.MaxDelay {
				delay = p.config.MaxDelay
			}
		}

		resp, err := p.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !Retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// Retryable classifies transient provider failures: rate limits,
// server errors, network timeouts and malformed completions.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "rate limit", "connection reset", "temporarily unavailable", "server error"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RateLimitedProvider paces calls to the inner provider.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps a provider with a token-bucket limiter.
func WithRateLimit(inner Provider, requestsPerSecond float64, burst int) *RateLimitedProvider {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Name returns the wrapped provider's name.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

// Complete waits for limiter capacity, then delegates.
func (p *RateLimitedProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Complete(ctx, req)
}
