package webhooks

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limiterSet hands out one token bucket per subscription. A nil set never waits.
type limiterSet struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	m     map[string]*rate.Limiter
}

func newLimiterSet(perSec float64, burst int) *limiterSet {
	if perSec <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{limit: rate.Limit(perSec), burst: burst, m: map[string]*rate.Limiter{}}
}

func (s *limiterSet) get(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.m[id]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.m[id] = l
	}
	return l
}

func (s *limiterSet) wait(ctx context.Context, id string) error {
	if s == nil {
		return nil
	}
	return s.get(id).Wait(ctx)
}

func (s *limiterSet) forget(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}
