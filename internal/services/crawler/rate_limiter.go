package crawler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RateLimiter paces requests per web source. Every source gets a token
// bucket enforcing the minimum delay between consecutive requests and a
// semaphore capping its in-flight requests. Jobs fetching from the same
// source share both.
type RateLimiter struct {
	limiters             map[string]*sourceLimiter
	mu                   sync.Mutex
	defaultDelay         time.Duration
	defaultMaxConcurrent int
}

// sourceLimiter tracks pacing for a single web source
type sourceLimiter struct {
	limiter       *rate.Limiter
	sem           *semaphore.Weighted
	delay         time.Duration
	maxConcurrent int
}

// NewRateLimiter creates a rate limiter with the defaults applied to
// sources that do not configure their own pacing
func NewRateLimiter(defaultDelay time.Duration, defaultMaxConcurrent int) *RateLimiter {
	if defaultMaxConcurrent <= 0 {
		defaultMaxConcurrent = 1
	}
	return &RateLimiter{
		limiters:             make(map[string]*sourceLimiter),
		defaultDelay:         defaultDelay,
		defaultMaxConcurrent: defaultMaxConcurrent,
	}
}

func everyLimit(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

func (rl *RateLimiter) limiterFor(sourceID string, delay time.Duration, maxConcurrent int) *sourceLimiter {
	if delay <= 0 {
		delay = rl.defaultDelay
	}
	if maxConcurrent <= 0 {
		maxConcurrent = rl.defaultMaxConcurrent
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	sl, exists := rl.limiters[sourceID]
	if !exists {
		sl = &sourceLimiter{
			limiter:       rate.NewLimiter(everyLimit(delay), 1),
			sem:           semaphore.NewWeighted(int64(maxConcurrent)),
			delay:         delay,
			maxConcurrent: maxConcurrent,
		}
		rl.limiters[sourceID] = sl
		return sl
	}

	if sl.delay != delay {
		sl.limiter.SetLimit(everyLimit(delay))
		sl.delay = delay
	}
	if sl.maxConcurrent != maxConcurrent {
		// Holders of the old semaphore release into it; new requests use the new cap.
		sl.sem = semaphore.NewWeighted(int64(maxConcurrent))
		sl.maxConcurrent = maxConcurrent
	}
	return sl
}

// Acquire blocks until the source has a free request slot and its delay has
// elapsed. The returned release must be called when the request finishes.
func (rl *RateLimiter) Acquire(ctx context.Context, sourceID string, delay time.Duration, maxConcurrent int) (func(), error) {
	sl := rl.limiterFor(sourceID, delay, maxConcurrent)

	rl.mu.Lock()
	sem := sl.sem
	rl.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := sl.limiter.Wait(ctx); err != nil {
		sem.Release(1)
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

// SourceDelay returns the delay currently enforced for a source
func (rl *RateLimiter) SourceDelay(sourceID string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if sl, exists := rl.limiters[sourceID]; exists {
		return sl.delay
	}
	return rl.defaultDelay
}
