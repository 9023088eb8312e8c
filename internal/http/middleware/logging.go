// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request ID injector, the structured access log, and
// panic recovery:
//
//   - RequestID() propagates or generates X-Request-ID and stores it in the
//     Gin context.
//   - Logger() attaches a request-scoped zerolog.Logger and emits one access
//     line per request. The line carries the player ID once Identity ran, the
//     stable error code written by the handler (on_cooldown,
//     insufficient_funds, ...), and whether the response was an idempotent
//     replay, so purchase outcomes can be followed from logs alone.
//   - Recovery() turns panics into the standard 500 envelope.
//   - LoggerFrom() returns the request-scoped logger for handlers.
//
// Order: RequestID, Logger, Recovery, then everything else.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
	errorCodeKey    = "error.code"

	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// RequestID reuses an incoming X-Request-ID or generates a UUIDv4, echoes it
// on the response, and stores it under the "requestID" context key.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// SetErrorCode records the error code of the response being written. The
// access log and the HTTP metrics read it back after the handler returns.
func SetErrorCode(c *gin.Context, code string) {
	c.Set(errorCodeKey, code)
}

// ErrorCode returns the code stored by SetErrorCode, or "".
func ErrorCode(c *gin.Context) string {
	v, _ := c.Get(errorCodeKey)
	return asString(v)
}

// Logger writes a structured access log for each request.
//
// Level is chosen by outcome: error for 5xx or when gin collected errors,
// warn for 4xx, info otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		// Identity may have replaced the logger with one carrying user_id.
		ev := LoggerFrom(c).With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()
		if code := ErrorCode(c); code != "" {
			ev = ev.With().Str("error_code", code).Logger()
		}
		if IsReplay(c) {
			ev = ev.With().Bool("replayed", true).Logger()
		}

		status := c.Writer.Status()
		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// withUserID replaces the request-scoped logger with one that carries uid.
func withUserID(c *gin.Context, uid string) {
	if _, ok := c.Get(loggerKey); !ok {
		return
	}
	l := LoggerFrom(c).With().Str("user_id", uid).Logger()
	c.Set(loggerKey, &l)
}

// Recovery logs a panic with its stack and answers with the standard
// internal_error envelope when nothing was written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", asString(rid)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			SetErrorCode(c, "internal_error")
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// Logger() is not installed.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
