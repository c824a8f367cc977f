package api

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultLimiterSessions bounds how many per-session limiters are remembered.
const DefaultLimiterSessions = 4096

// SubmitLimiter throttles prediction submissions per session, so one busy
// client cannot exhaust the budget of everyone else. A nil *SubmitLimiter
// allows everything.
type SubmitLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewSubmitLimiter allows limit submissions per second with the given burst
// for each session.
func NewSubmitLimiter(limit rate.Limit, burst int) (*SubmitLimiter, error) {
	limiters, err := lru.New[string, *rate.Limiter](DefaultLimiterSessions)
	if err != nil {
		return nil, err
	}
	return &SubmitLimiter{
		limit:    limit,
		burst:    max(burst, 1),
		limiters: limiters,
	}, nil
}

// Allow reports whether session id may submit now
func (l *SubmitLimiter) Allow(id string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	limiter, ok := l.limiters.Get(id)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(id, limiter)
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Forget drops the limiter of a deleted session
func (l *SubmitLimiter) Forget(id string) {
	if l == nil {
		return
	}
	l.limiters.Remove(id)
}
