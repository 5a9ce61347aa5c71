package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/report-gin/internal/config"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware 限流中间件,所有请求共享一个令牌桶
func RateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:    http.StatusTooManyRequests,
				Message: T(c, "error.too_many"),
			})
			return
		}
		c.Next()
	}
}
