package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Package middleware provides gin middleware for the radar's status server.

// probePaths are polled by orchestrators and only logged at debug level.
var probePaths = map[string]bool{
	"/health": true,
	"/ready":  true,
	"/live":   true,
}

// RequestTelemetry annotates the active request span (opened by otelgin) with
// response details and writes one log line per request.
func RequestTelemetry(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int64("http.response.time_ms", elapsed.Milliseconds()),
				attribute.Int64("http.response.size_bytes", int64(c.Writer.Size())),
			)
			if probePaths[c.Request.URL.Path] {
				span.SetAttributes(attribute.String("health.status", statusClass(status)))
			}
			if status >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
			}
		}

		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      route,
			"status":     status,
			"latency_ms": elapsed.Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		switch {
		case status >= 500:
			entry.Error("request failed")
		case probePaths[c.Request.URL.Path]:
			entry.Debug("probe served")
		default:
			entry.Info("request served")
		}
	}
}

// RecordError records err on the request span.
func RecordError(c *gin.Context, err error, description string) {
	span := trace.SpanFromContext(c.Request.Context())
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, description)
	}
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "healthy"
	case code == 503:
		return "unavailable"
	case code >= 400 && code < 500:
		return "client_error"
	case code >= 500:
		return "server_error"
	default:
		return "unknown"
	}
}
