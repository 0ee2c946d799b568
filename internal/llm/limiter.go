package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited paces calls to an underlying Generator so a free-tier quota is not
// exhausted by a burst of sessions.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewLimited allows perMinute calls per minute with the given burst.
// A non-positive perMinute disables limiting.
func NewLimited(next Generator, perMinute float64, burst int) *Limited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Generate waits for a token and then calls the wrapped generator. If the
// wait cannot finish before ctx ends the call counts as rate limited.
func (l *Limited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
		return "", fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return l.next.Generate(ctx, prompt)
}
