// Package middleware holds the gin middleware for the command API:
// request identity, CORS, security headers, body limits, validation
// formatting and span management.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestID assigns each request an ID, honoring one supplied by the
// caller in X-Request-ID. The ID is echoed back so clients can quote
// it when reporting a failed command submission.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// CORSConfig holds the cross-origin policy for the command API.
type CORSConfig struct {
	AllowOrigins []string // empty rejects all cross-origin requests
	MaxAge       time.Duration
}

// DefaultCORSConfig allows no origins; deployments list theirs
// explicitly through configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{MaxAge: 12 * time.Hour}
}

// allowed headers cover the command submission surface: idempotent
// retries send the same X-Correlation-ID, multi-tenant callers send
// X-Tenant-ID.
var corsAllowHeaders = strings.Join([]string{
	"Content-Type",
	"X-Request-ID",
	"X-Correlation-ID",
	"X-Tenant-ID",
}, ", ")

const corsAllowMethods = "GET, POST, OPTIONS"

// CORS returns the cross-origin middleware with the default policy.
func CORS() gin.HandlerFunc {
	return CORSWithConfig(DefaultCORSConfig())
}

// CORSWithConfig returns the cross-origin middleware for the given
// policy. Preflight requests always answer 204; response headers are
// set only for listed origins.
func CORSWithConfig(cfg CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(cfg.AllowOrigins, origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Expose-Headers", "X-Request-ID")
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge.Seconds())))
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Secure sets the baseline security headers. The API serves JSON only,
// so the set stays small: no sniffing, no framing, no referrer leakage.
func Secure() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
