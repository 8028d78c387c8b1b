package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimitMiddleware counts requests per key in fixed windows shared by
// all replicas. A window admits floor(rps*window)+burst requests. A nil
// client falls back to the in-memory limiter.
func RedisRateLimitMiddleware(client *redis.Client, rps float64, burst int, window time.Duration) gin.HandlerFunc {
	if client == nil {
		return RateLimitMiddleware(rps, burst)
	}
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	allowed := int64(rps*float64(secs)) + int64(burst)
	ttl := time.Duration(secs+1) * time.Second

	return limit("redis", strconv.FormatInt(secs, 10), func(c *gin.Context, key string) (bool, error) {
		k := fmt.Sprintf("rl:%s:%d", key, time.Now().Unix()/secs)
		pipe := client.TxPipeline()
		n := pipe.Incr(c.Request.Context(), k)
		pipe.Expire(c.Request.Context(), k, ttl)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			return false, fmt.Errorf("incr %s: %w", k, err)
		}
		return n.Val() <= allowed, nil
	})
}
