package gate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

/*
Limiter is a token-bucket rate limiter keyed globally and per tenant.
Tokens refill at the configured per-window rate and allow a configurable
burst. All access is synchronized; many workers contend for the same tenant
bucket concurrently.
*/
type Limiter struct {
	mu      sync.Mutex
	global  *rate.Limiter
	tenants map[string]*rate.Limiter
	refill  rate.Limit
	burst   int
}

/*
NewLimiter creates a limiter granting perWindow builds per window duration
with the given burst capacity, enforced both globally and per tenant.
*/
func NewLimiter(perWindow int, window time.Duration, burst int) *Limiter {
	refill := rate.Limit(float64(perWindow) / window.Seconds())
	return &Limiter{
		global:  rate.NewLimiter(refill, burst),
		tenants: make(map[string]*rate.Limiter),
		refill:  refill,
		burst:   burst,
	}
}

/*
Allow consumes one token from the global bucket and the tenant's bucket.
Both reservations must be immediately satisfiable; when one side has no
token the other side's reservation is cancelled, so no token leaks.
*/
func (l *Limiter) Allow(tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	tenant, ok := l.tenants[tenantID]
	if !ok {
		tenant = rate.NewLimiter(l.refill, l.burst)
		l.tenants[tenantID] = tenant
	}

	now := time.Now()

	tenantRes := tenant.ReserveN(now, 1)
	if !tenantRes.OK() || tenantRes.DelayFrom(now) > 0 {
		tenantRes.CancelAt(now)
		return false
	}

	globalRes := l.global.ReserveN(now, 1)
	if !globalRes.OK() || globalRes.DelayFrom(now) > 0 {
		globalRes.CancelAt(now)
		tenantRes.CancelAt(now)
		return false
	}

	return true
}

/*
Saturation reports how much of the global bucket is spent, from 0 (idle) to
1 (exhausted), for the status surface.
*/
func (l *Limiter) Saturation() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	tokens := l.global.Tokens()
	if tokens < 0 {
		tokens = 0
	}
	if tokens > float64(l.burst) {
		tokens = float64(l.burst)
	}
	return 1 - tokens/float64(l.burst)
}
