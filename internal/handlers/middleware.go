package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-toy-activation/internal/logger"
)

// RequestIDHeader carries the correlation id in and out.
const RequestIDHeader = "X-Request-Id"

// AdminKeyHeader carries the admin API key.
const AdminKeyHeader = "X-Admin-Key"

// RequestContext attaches a request id and a request-scoped logger to the
// request context and writes one access log line per request.
func RequestContext(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		l := base.With("request_id", id)
		ctx := logger.WithRequestID(logger.WithContext(c.Request.Context(), l), id)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		l.Info("http request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// AdminOnly rejects requests whose X-Admin-Key does not match key. With no
// key configured every admin request is refused.
func AdminOnly(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_disabled"})
			return
		}
		got := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			logger.FromContext(c.Request.Context()).Warn("admin key rejected", "route", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
