package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mautops/report-gin/internal/auth"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

// gin 上下文键
const (
	requestIDKey = "request_id"
	languageKey  = "language"
)

// RequestIDMiddleware 生成请求 ID,并把请求来源写入 context 供审计日志使用
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header(HeaderRequestID, requestID)

		ctx := auth.WithRequestInfo(c.Request.Context(), auth.RequestInfo{
			RequestID: requestID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
