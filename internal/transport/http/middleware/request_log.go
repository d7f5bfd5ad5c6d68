package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"api-key":       {},
	"x-api-key":     {},
	"cookie":        {},
}

// RequestObserver receives one sample per finished request.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
}

// RequestLog logs one line per request with sensitive headers redacted and
// reports it to observer when set.
func RequestLog(logger *slog.Logger, observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		elapsed := time.Since(started)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if observer != nil {
			observer.ObserveRequest(route, c.Request.Method, status, elapsed)
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", route,
			"status", status,
			"elapsed", elapsed,
			"remote", c.ClientIP(),
			"headers", SafeHeaders(c.Request.Header),
		)
	}
}

// SafeHeaders keeps the first value of each header and redacts credentials.
func SafeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok && v[0] != "" {
			out[k] = "<redacted>"
			continue
		}
		out[k] = v[0]
	}
	return out
}
