package httpx

import (
	"net/http"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"golang.org/x/time/rate"
)

// A bucket idle this long has refilled completely, so dropping it loses
// nothing.
const limiterIdle = 2 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter hands out one token bucket per key.
type Limiter struct {
	PerMinute int
	Clock     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func NewLimiter(perMinute int) *Limiter {
	return &Limiter{PerMinute: perMinute, buckets: make(map[string]*bucket)}
}

func (l *Limiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buckets == nil {
		l.buckets = make(map[string]*bucket)
	}
	if now.Sub(l.lastSweep) >= limiterIdle {
		for k, b := range l.buckets {
			if now.Sub(b.seen) >= limiterIdle {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(float64(l.PerMinute)/60), l.PerMinute)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

func (l *Limiter) Allow(key string) bool {
	if l == nil || l.PerMinute <= 0 {
		return true
	}
	now := l.now()
	return l.get(key, now).AllowN(now, 1)
}

// PerUser limits requests by the authenticated caller. It must run after
// the auth middleware.
func (l *Limiter) PerUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(caller(r)) {
			writeError(w, r, apperr.RateLimited("too many code requests, try again in a minute"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
