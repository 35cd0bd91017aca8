package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"

	"github.com/codenamespivey12/MojoCode/internal/auth"
	"github.com/codenamespivey12/MojoCode/internal/config"
	"github.com/codenamespivey12/MojoCode/internal/metrics"
	"github.com/codenamespivey12/MojoCode/internal/redis"
)

// NewStore returns a redis-backed store when a client is given, otherwise a
// process-local one.
func NewStore(cfg config.RateLimitConfig, client *redis.Client) ratelimit.Store {
	if raw := client.Raw(); raw != nil {
		return ratelimit.RedisStore(&ratelimit.RedisOptions{
			RedisClient: raw,
			Rate:        cfg.Window,
			Limit:       cfg.Requests,
		})
	}
	return ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  cfg.Window,
		Limit: cfg.Requests,
	})
}

// Middleware limits requests per authenticated user. It must run after the
// auth middleware; anonymous callers are keyed by client ip.
func Middleware(store ratelimit.Store) gin.HandlerFunc {
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})
}

func keyFunc(c *gin.Context) string {
	if userID, ok := auth.UserIDFromContext(c); ok {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	metrics.RecordRateLimited()
	retryAfter := int(time.Until(info.ResetTime).Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
}
