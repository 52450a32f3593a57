package gitops

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns three retries starting at one second.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c *RetryConfig) withDefaults() RetryConfig {
	out := *c
	d := DefaultRetryConfig()
	if out.MaxRetries == 0 {
		out.MaxRetries = d.MaxRetries
	}
	if out.InitialBackoff == 0 {
		out.InitialBackoff = d.InitialBackoff
	}
	if out.MaxBackoff == 0 {
		out.MaxBackoff = d.MaxBackoff
	}
	if out.BackoffMultiplier == 0 {
		out.BackoffMultiplier = d.BackoffMultiplier
	}
	return out
}

// retryGitHubOperation retries operation with exponential backoff while the
// failure is a rate limit or a transient server error.
func retryGitHubOperation(ctx context.Context, cfg *RetryConfig, logger *logging.Logger, operation func() (*github.Response, error)) (*github.Response, error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	c := cfg.withDefaults()

	var lastErr error
	var lastResp *github.Response
	backoff := c.InitialBackoff
	start := time.Now()

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info(ctx, "GitHub API operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return resp, nil
		}

		lastErr = err
		lastResp = resp

		if !isGitHubRetryableError(err, resp) {
			logger.Debug(ctx, "GitHub API error is not retryable",
				zap.Error(err), zap.Int("status_code", getStatusCode(resp)))
			return resp, err
		}
		if attempt == c.MaxRetries {
			break
		}

		if isRateLimitError(resp) {
			backoff = getRateLimitBackoff(resp, c.MaxBackoff)
		}
		logger.Warn(ctx, "retrying GitHub API operation",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.MaxRetries+1),
			zap.Int("status_code", getStatusCode(resp)),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-timer.C:
		}
		backoff = min(time.Duration(float64(backoff)*c.BackoffMultiplier), c.MaxBackoff)
	}

	logger.Warn(ctx, "GitHub API operation failed after all retries exhausted",
		zap.Int("total_attempts", c.MaxRetries+1),
		zap.Duration("total_time", time.Since(start)),
		zap.Int("status_code", getStatusCode(lastResp)),
	)
	return lastResp, fmt.Errorf("GitHub API operation failed after %d retries: %w", c.MaxRetries, lastErr)
}

// isGitHubRetryableError reports whether a failed call may succeed later.
// Errors without a response are network failures and are retried.
func isGitHubRetryableError(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	if resp == nil || resp.Response == nil {
		return true
	}

	switch code := resp.Response.StatusCode; {
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusForbidden:
		// Secondary rate limits arrive as 403 with rate headers.
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	case code >= 500 && code < 600:
		return true
	default:
		return false
	}
}

func isRateLimitError(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	switch resp.Response.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Rate.Limit > 0
	}
	return false
}

// getRateLimitBackoff waits until the rate limit resets, capped at maxBackoff.
func getRateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || resp.Rate.Reset.Time.IsZero() {
		return maxBackoff
	}
	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < time.Second {
		backoff = time.Second
	}
	return min(backoff, maxBackoff)
}

func getStatusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}
