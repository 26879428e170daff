package crawler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/models"
)

// RetryPolicy defines bounded retries with exponential backoff for
// retryable fetch failures
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewRetryPolicy creates a retry policy from the fetcher retry settings
func NewRetryPolicy(config common.RetryConfig) *RetryPolicy {
	p := &RetryPolicy{
		MaxAttempts:       config.MaxAttempts,
		InitialBackoff:    common.ParseDuration(config.InitialBackoff, time.Second),
		MaxBackoff:        common.ParseDuration(config.MaxBackoff, 30*time.Second),
		BackoffMultiplier: config.BackoffMultiplier,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 2.0
	}
	return p
}

// ShouldRetry reports whether attempt (zero based) may be followed by another
func (p *RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt+1 >= p.MaxAttempts || err == nil {
		return false
	}
	var fetchErr *models.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Retryable()
	}
	return false
}

// CalculateBackoff returns the exponential backoff for attempt with ±25% jitter
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}
	return time.Duration(backoff)
}

// Execute runs fn until it succeeds, fails permanently or the attempts run out
func (p *RetryPolicy) Execute(ctx context.Context, logger arbor.ILogger, fn func(ctx context.Context) (*models.PageResult, error)) (*models.PageResult, error) {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.ShouldRetry(attempt, err) {
			break
		}

		backoff := p.CalculateBackoff(attempt)
		logger.Debug().
			Int("attempt", attempt+1).
			Err(err).
			Dur("backoff", backoff).
			Msg("Retrying fetch after backoff")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}
