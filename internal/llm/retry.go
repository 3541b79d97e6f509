package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// retryPolicy retries rate limits, server errors and timed-out attempts with
// jittered exponential backoff.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func newRetryPolicy(maxAttempts int, baseDelay time.Duration) retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return retryPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: 20 * baseDelay}
}

// shouldRetry decides whether attempt (1-based) may be followed by another.
func (p retryPolicy) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts || ctx.Err() != nil {
		return false
	}
	// the parent context is alive, so this was the attempt's own timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// backoff returns the wait before attempt+1: half the exponential delay plus
// up to the same again in jitter.
func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := p.baseDelay << max(attempt-1, 0)
	if delay <= 0 || delay > p.maxDelay {
		delay = p.maxDelay
	}
	half := delay / 2
	return half + rand.N(half+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
