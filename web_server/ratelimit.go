package web_server

import (
	"golang.org/x/time/rate"
	"net"
	"net/http"
	"sync"
	"time"
)

// limiterIdleTTL is the time after which limiters of idle clients are dropped.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps a token bucket per route and client address.
type rateLimiter struct {
	limit rate.Limit
	burst int
	// limiters by route and client address.
	limiters  map[string]*limiterEntry
	lastSweep time.Time
	m         sync.Mutex
}

// newRateLimiter creates a rateLimiter allowing the given requests per second.
// A limit of zero allows everything.
func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

// allow reports whether a request for the route by the client is within the
// quota.
func (l *rateLimiter) allow(route string, client string, now time.Time) bool {
	if l.limit == 0 {
		return true
	}
	key := route + " " + client
	l.m.Lock()
	defer l.m.Unlock()
	l.sweep(now)
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep removes idle limiters at most once per limiterIdleTTL.
func (l *rateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	l.lastSweep = now
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= limiterIdleTTL {
			delete(l.limiters, key)
		}
	}
}

// clientAddr returns the host part of the remote address.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
