// Package httpx holds the gin middleware and server lifecycle shared by the HTTP services.
package httpx

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs one line per request. Route parameters named in idParams
// are attached when present.
func RequestLogger(logger *slog.Logger, idParams ...string) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("bytes", max(c.Writer.Size(), 0)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		for _, name := range idParams {
			if value := c.Param(name); value != "" {
				attrs = append(attrs, slog.String(name, value))
			}
		}

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}
