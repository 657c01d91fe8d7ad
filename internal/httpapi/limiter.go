package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterSet holds one token bucket per remote address, lazily created, in
// the shape of the per-IP limiter used elsewhere in the corpus — but backed
// directly by golang.org/x/time/rate instead of a hand-rolled bucket, since
// that is the library the rest of this stack already depends on.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newLimiterSet(r rate.Limit, burst int) *limiterSet {
	return &limiterSet{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(s.r, s.burst)
		s.limiters[key] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}
