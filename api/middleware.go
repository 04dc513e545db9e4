package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RequestLoggingMiddleware logs one structured line per request once the
// handler chain has finished.
func RequestLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []any{
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", route,
			"status_code", status,
			"latency_ms", float64(time.Since(start).Microseconds()) / 1000,
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		logger.Log(c.Request.Context(), levelForStatus(status), "request completed", attrs...)
	}
}

func levelForStatus(status int) slog.Level {
	if status >= http.StatusInternalServerError {
		return slog.LevelError
	}
	if status >= http.StatusBadRequest {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// AuthMiddleware rejects requests whose bearer token does not match key.
func AuthMiddleware(key string, logger *slog.Logger) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		token, ok := bearerToken(c.Request)
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			logger.Warn("rejected api key", "client_ip", c.ClientIP(), "bearer", ok)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return strings.TrimSpace(token), ok
}

// rateWindow counts a hit and starts the window on the first one, so later
// hits never push the reset further out. It returns the count and the
// milliseconds left in the window.
var rateWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RateLimitMiddleware allows limit requests per client IP in each fixed
// window, counted in Redis.
func RateLimitMiddleware(client *redis.Client, limit int64, window time.Duration, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + c.ClientIP()
		res, err := rateWindow.Run(c.Request.Context(), client, []string{key}, window.Milliseconds()).Int64Slice()
		if err != nil || len(res) != 2 {
			logger.Error("rate limiter redis error", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}

		hits, left := res[0], time.Duration(res[1])*time.Millisecond
		if hits <= limit {
			c.Next()
			return
		}
		if left <= 0 {
			left = window
		}
		logger.Warn("rate limit exceeded", "client_ip", c.ClientIP(), "count", hits)
		c.Header("Retry-After", strconv.FormatInt(int64((left+time.Second-1)/time.Second), 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
	}
}

var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Content-Security-Policy": "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'",
}

// SecurityHeadersMiddleware sets securityHeaders on every response.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for name, value := range securityHeaders {
			h.Set(name, value)
		}
		c.Next()
	}
}
