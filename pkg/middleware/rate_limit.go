package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/noosphere/hub/internal/security"
	"github.com/noosphere/hub/pkg/logger"
	"github.com/noosphere/hub/pkg/metrics"
)

// allowFunc decides whether one more request for key fits the limit.
type allowFunc func(c *gin.Context, key string) (bool, error)

// limit wraps an allowFunc into a handler. It must be mounted after the
// authentication middleware so requests are counted per subject.
func limit(limiter, retryAfter string, allow allowFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := allow(c, rateLimitKey(c))
		if err != nil {
			logger.Errorf("rate limit (%s): %v", limiter, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
			return
		}
		if !ok {
			c.Header("Retry-After", retryAfter)
			metrics.RateLimitRejected.WithLabelValues(limiter).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues(limiter).Inc()
		c.Next()
	}
}

// rateLimitKey is "sub:<id>" for an api key principal or bearer token
// holder and "ip:<addr>" for anonymous requests.
func rateLimitKey(c *gin.Context) string {
	if p, ok := security.PrincipalFrom(c.Request.Context()); ok {
		return "sub:" + p.Subject()
	}
	if tok, ok := VerifiedToken(c); ok && tok.Subject() != "" {
		return "sub:" + tok.Subject()
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// RateLimitMiddleware keeps one token bucket per key in process memory.
// rps is the refill rate, burst the bucket size.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	var buckets sync.Map // key -> *rate.Limiter
	return limit("memory", "1", func(_ *gin.Context, key string) (bool, error) {
		v, ok := buckets.Load(key)
		if !ok {
			v, _ = buckets.LoadOrStore(key, rate.NewLimiter(rate.Limit(rps), burst))
		}
		return v.(*rate.Limiter).Allow(), nil
	})
}
