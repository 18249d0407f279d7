package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// visitorLimiters holds one token bucket per client IP and evicts buckets
// that have been idle longer than maxIdle.
type visitorLimiters struct {
	mu      sync.Mutex
	buckets map[string]*visitor
	rps     rate.Limit
	burst   int
	maxIdle time.Duration
}

type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func newVisitorLimiters(rps, burst int, maxIdle time.Duration) *visitorLimiters {
	return &visitorLimiters{
		buckets: make(map[string]*visitor),
		rps:     rate.Limit(rps),
		burst:   burst,
		maxIdle: maxIdle,
	}
}

// allow consumes one token from the IP's bucket, creating it on first sight.
func (v *visitorLimiters) allow(ip string) bool {
	v.mu.Lock()
	vis, ok := v.buckets[ip]
	if !ok {
		vis = &visitor{bucket: rate.NewLimiter(v.rps, v.burst)}
		v.buckets[ip] = vis
	}
	vis.lastSeen = time.Now()
	v.mu.Unlock()

	return vis.bucket.Allow()
}

func (v *visitorLimiters) evictIdle() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for ip, vis := range v.buckets {
		if time.Since(vis.lastSeen) > v.maxIdle {
			delete(v.buckets, ip)
		}
	}
}

// RateLimiter returns a Gin middleware enforcing a per-IP token bucket.
// rps is the steady-state requests per second, burst the maximum burst.
// Rejected requests are counted in pantry_rate_limited_requests_total.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	limiters := newVisitorLimiters(rps, burst, 10*time.Minute)

	go func() {
		for range time.Tick(5 * time.Minute) {
			limiters.evictIdle()
		}
	}()

	return func(c *gin.Context) {
		if !limiters.allow(c.ClientIP()) {
			rateLimitedTotal.Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
