package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ginLoggerKey = "logger"

// RequestLog returns a gin middleware that logs each request and seeds
// the request context with a request-scoped logger. The correlation ID
// from the X-Correlation-ID header is attached to the request context
// so command submissions and their SQL share it in the logs.
func RequestLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID, _ := c.Value("request_id").(string)

		reqLog := log.With(
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
		)

		ctx := c.Request.Context()
		if correlationID := c.GetHeader("X-Correlation-ID"); correlationID != "" {
			ctx = WithCorrelationID(ctx, correlationID)
			reqLog = reqLog.With(zap.String("correlation_id", correlationID))
		}
		if tenantID := c.GetHeader("X-Tenant-ID"); tenantID != "" {
			ctx = WithTenantID(ctx, tenantID)
		}
		c.Request = c.Request.WithContext(WithLogger(ctx, reqLog))
		c.Set(ginLoggerKey, reqLog)

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			reqLog.Error("request", fields...)
		case status >= http.StatusBadRequest:
			reqLog.Warn("request", fields...)
		default:
			reqLog.Info("request", fields...)
		}
	}
}

// Recovery returns a gin middleware that turns handler panics into 500
// responses with a logged stack trace.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Value("request_id").(string)
				log.Error("panic recovered",
					zap.String("request_id", requestID),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", r),
					zap.Stack("stacktrace"),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// FromGin returns the request-scoped logger seeded by RequestLog, or a
// no-op logger outside of it.
func FromGin(c *gin.Context) *zap.Logger {
	if log, ok := c.Value(ginLoggerKey).(*zap.Logger); ok {
		return log
	}
	return zap.NewNop()
}
