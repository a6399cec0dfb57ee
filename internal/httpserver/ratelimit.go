package httpserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

type limiterInfo struct {
	limiter      *rate.Limiter
	lastAccessed time.Time
}

// ipRateLimiter keeps one token bucket per client address. Idle buckets are swept
// on access, so there is no background goroutine to stop.
type ipRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterInfo
	perSec    rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newIPRateLimiter(perSec float64, burst int) *ipRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipRateLimiter{
		limiters:  make(map[string]*limiterInfo),
		perSec:    rate.Limit(perSec),
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= limiterSweepEvery {
		for k, info := range l.limiters {
			if now.Sub(info.lastAccessed) > limiterIdleAfter {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}
	info, ok := l.limiters[ip]
	if !ok {
		info = &limiterInfo{limiter: rate.NewLimiter(l.perSec, l.burst)}
		l.limiters[ip] = info
	}
	info.lastAccessed = now
	lim := info.limiter
	l.mu.Unlock()

	return lim.AllowN(now, 1)
}

func (l *ipRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func rateLimitMiddleware(l *ipRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.allow(c.ClientIP()) {
			c.Next()
			return
		}
		if c.FullPath() == beaconPath {
			c.Status(http.StatusNoContent)
		} else {
			c.JSON(http.StatusTooManyRequests, gin.H{"code": http.StatusTooManyRequests, "err": "rate limited"})
		}
		c.Abort()
	}
}
