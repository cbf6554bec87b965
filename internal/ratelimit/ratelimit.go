// Package ratelimit enforces the per-profile rate-limit triple: requests
// per minute, requests per hour, and maximum concurrent invocations, keyed
// by client.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/mcpambassador/server/internal/apierror"
)

// Limits is the rate-limit triple from a tool profile. Zero values mean
// unlimited.
type Limits struct {
	PerMinute     int
	PerHour       int
	MaxConcurrent int
}

// clientState holds the limiters for one client.
type clientState struct {
	perMinute  *rate.Limiter
	perHour    *rate.Limiter
	concurrent int
}

// Limiter tracks per-client limit state.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientState
}

// New creates a limiter.
func New() *Limiter {
	return &Limiter{clients: make(map[string]*clientState)}
}

// Acquire admits one invocation for the client under the given limits. On
// success it returns a release function that must be called when the
// invocation finishes; on breach it returns a rate_limited error carrying a
// retry-after hint in seconds.
func (l *Limiter) Acquire(clientID string, limits Limits) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.clients[clientID]
	if st == nil {
		st = &clientState{}
		l.clients[clientID] = st
	}

	if limits.MaxConcurrent > 0 && st.concurrent >= limits.MaxConcurrent {
		return nil, rateLimited(1)
	}

	// Token buckets are created lazily and kept per client with the rates
	// they were created with; a profile change reaches an existing
	// client's buckets only after Forget drops its state.
	if limits.PerMinute > 0 {
		if st.perMinute == nil {
			st.perMinute = rate.NewLimiter(rate.Limit(float64(limits.PerMinute)/60.0), limits.PerMinute)
		}
		if !st.perMinute.Allow() {
			return nil, rateLimited(60)
		}
	}
	if limits.PerHour > 0 {
		if st.perHour == nil {
			st.perHour = rate.NewLimiter(rate.Limit(float64(limits.PerHour)/3600.0), limits.PerHour)
		}
		if !st.perHour.Allow() {
			return nil, rateLimited(3600)
		}
	}

	st.concurrent++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if st.concurrent > 0 {
			st.concurrent--
		}
	}, nil
}

// Forget drops all state for a client (e.g. on revocation).
func (l *Limiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, clientID)
}

func rateLimited(retryAfterSeconds int) error {
	return apierror.New(apierror.KindRateLimited, "rate limit exceeded").
		WithMetadata(map[string]interface{}{"retry_after_seconds": retryAfterSeconds})
}
