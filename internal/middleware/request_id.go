package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"backend/internal/logger"
)

// HeaderRequestID 请求 ID 的 HTTP 头。
const HeaderRequestID = "X-Request-ID"

// RequestID 为每个请求分配唯一 ID，支持上游透传，
// 并注入 context 供日志关联。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderRequestID, requestID)

		c.Next()
	}
}
