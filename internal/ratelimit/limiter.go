package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Route represents a class of backend calls that share a rate budget
type Route string

const (
	// RouteQuery covers synchronous queries and task submissions
	RouteQuery Route = "query"
	// RouteTaskPoll covers task status polling
	RouteTaskPoll Route = "task_poll"
)

// Limiter manages rate limits for the different backend routes
type Limiter struct {
	limiters map[Route]*rate.Limiter
	mu       sync.RWMutex
}

// New creates a limiter allowing requestsPerSecond queries per second and
// twice that for task polling, which is cheap on the backend side.
// A non-positive rate disables limiting.
func New(requestsPerSecond float64) *Limiter {
	if requestsPerSecond <= 0 {
		return Unlimited()
	}

	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiters: map[Route]*rate.Limiter{
			RouteQuery:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
			RouteTaskPoll: rate.NewLimiter(rate.Limit(2*requestsPerSecond), 2*burst),
		},
	}
}

// Unlimited returns a limiter that never blocks
func Unlimited() *Limiter {
	return &Limiter{
		limiters: map[Route]*rate.Limiter{
			RouteQuery:    rate.NewLimiter(rate.Inf, 1),
			RouteTaskPoll: rate.NewLimiter(rate.Inf, 1),
		},
	}
}

// Wait blocks until the rate limiter permits an event for the given route
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, route Route) error {
	if l == nil {
		return nil
	}

	l.mu.RLock()
	limiter, exists := l.limiters[route]
	l.mu.RUnlock()

	if !exists {
		return nil
	}

	return limiter.Wait(ctx)
}

// SetLimit replaces the budget of a route
func (l *Limiter) SetLimit(route Route, limit rate.Limit, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters[route] = rate.NewLimiter(limit, burst)
}
