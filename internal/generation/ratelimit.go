package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/yvan/pkg/utils"
)

// DefaultBackoff is used when a provider answers 429 without a Retry-After.
const DefaultBackoff = 30 * time.Second

// RateLimiter is a token bucket plus a backoff window set by 429 responses.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewRateLimiter allows rps requests per second with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a request may be sent, honouring any backoff window first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return r.limiter.Wait(ctx)
}

// Backoff blocks all requests for d (DefaultBackoff when d <= 0).
func (r *RateLimiter) Backoff(d time.Duration) {
	if d <= 0 {
		d = DefaultBackoff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if at := time.Now().Add(d); at.After(r.retryAt) {
		r.retryAt = at
	}
}

// RateLimitedGenerator throttles calls to a Generator and retries after 429s.
type RateLimitedGenerator struct {
	inner      Generator
	limiter    *RateLimiter
	maxRetries int
	logger     *zap.Logger
}

// NewRateLimited wraps inner with a limiter of rps requests per second and burst.
// A rate-limited call is retried up to maxRetries times after the server's backoff.
func NewRateLimited(inner Generator, rps float64, burst, maxRetries int, logger *zap.Logger) *RateLimitedGenerator {
	return &RateLimitedGenerator{
		inner:      inner,
		limiter:    NewRateLimiter(rps, burst),
		maxRetries: maxRetries,
		logger:     utils.OrNop(logger),
	}
}

// Generate waits for a token, calls the wrapped generator, and on a rate-limit
// error backs off and tries again.
func (g *RateLimitedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	for attempt := 0; ; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
		text, err := g.inner.Generate(ctx, prompt)
		var rl *RateLimitError
		if err == nil || !errors.As(err, &rl) || attempt >= g.maxRetries {
			return text, err
		}
		g.logger.Warn("generator rate limited, backing off",
			zap.Duration("retry_after", rl.RetryAfter),
			zap.Int("attempt", attempt+1))
		g.limiter.Backoff(rl.RetryAfter)
	}
}
