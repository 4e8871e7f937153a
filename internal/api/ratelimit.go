package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterSet holds one token bucket per assignment.
type limiterSet struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	m     map[string]*limiterEntry
	calls int
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.Limit(rps)
	if rps <= 0 {
		lim = rate.Inf
	}
	return &limiterSet{rps: lim, burst: burst, m: map[string]*limiterEntry{}}
}

func (l *limiterSet) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls%1024 == 0 {
		for k, e := range l.m {
			if now.Sub(e.seen) > limiterIdle {
				delete(l.m, k)
			}
		}
	}
	e, ok := l.m[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.m[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}
