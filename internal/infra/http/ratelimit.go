package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"sealreg/internal/infra/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimiter counts one request for key against its configured window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

func (s *Server) initRateLimit(override RateLimiter) {
	if override != nil {
		s.rateLimiter = override
		return
	}
	if s.cfg.RateLimitRequests <= 0 {
		return
	}
	if s.cfg.RedisAddr != "" {
		limiter, err := ratelimit.NewRedis(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, s.cfg.RateLimitRequests, s.cfg.RateLimitWindow())
		if err == nil {
			s.rateLimiter = limiter
			return
		}
		s.logger.WithError(err).Warn("redis rate limiter unavailable; using in-process limiter")
	}
	s.rateLimiter = ratelimit.NewMemory(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow(), 0)
}

// limitPublic guards the unauthenticated verification routes per client IP.
func (s *Server) limitPublic(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil {
			c.Next()
			return
		}
		decision, err := s.rateLimiter.Allow(c.Request.Context(), scope+":"+c.ClientIP())
		if err != nil {
			s.logger.WithError(err).Warn("rate limiter failed")
			if s.cfg.RateLimitFailClosed {
				writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
				c.Abort()
				return
			}
			c.Next()
			return
		}
		writeRateLimitHeaders(c, decision)
		if !decision.Allowed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

func writeRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if decision.ResetAt.IsZero() {
		return
	}
	c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if !decision.Allowed {
		retryAfter := int64(time.Until(decision.ResetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	}
}
