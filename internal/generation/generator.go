// Package generation produces answer text from a prompt using a hosted or local
// language model.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Generator produces text for a prompt. Implementations are safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrRateLimited is matched by errors.Is for any *RateLimitError.
var ErrRateLimited = errors.New("rate limited")

// RateLimitError reports an HTTP 429 from a provider.
type RateLimitError struct {
	Provider string
	// RetryAfter is the server's suggested wait, or 0 when it gave none.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// Is makes errors.Is(err, ErrRateLimited) true.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
