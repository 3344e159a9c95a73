package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// ToolLimiter enforces global per-tool QPS caps at the tool boundary.
// Exceeding a cap returns a rate-limited error with a retry-after hint;
// callers are never queued.
type ToolLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewToolLimiter creates a limiter with per-tool caps expressed in
// requests per minute. A tool without a cap is unlimited.
func NewToolLimiter(perMinute map[string]int) *ToolLimiter {
	limiters := make(map[string]*rate.Limiter, len(perMinute))
	for tool, perMin := range perMinute {
		if perMin <= 0 {
			continue
		}
		// Burst of one minute's allowance, refilled continuously.
		limiters[tool] = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
	}
	return &ToolLimiter{limiters: limiters}
}

// Allow reserves one call for the tool. On rejection it returns a
// RateLimitError carrying the wait until the next available slot.
func (l *ToolLimiter) Allow(tool string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[tool]
	l.mu.Unlock()
	if !ok {
		return nil
	}

	res := limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return &domain.RateLimitError{Tool: tool, RetryAfter: delay.Round(time.Millisecond)}
	}
	return nil
}
