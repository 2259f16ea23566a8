package logging

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

// LoggerContextKey is the key under which the request-scoped logger is
// stored in the request context.
const LoggerContextKey contextKey = "logger"

// responseWriter captures the status code and body size of a response.
type responseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (rw *responseWriter) WriteHeader(status int) {
	if rw.written {
		return
	}
	rw.status = status
	rw.written = true
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// RequestLogger logs each request on completion and puts a
// request-scoped logger into the context for handlers. The completion
// level tracks the status class: 5xx error, 4xx warn, otherwise info.
func RequestLogger(logger *Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := logger.WithFields(map[string]any{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"remote_ip":  r.RemoteAddr,
			})

			ctx := context.WithValue(r.Context(), LoggerContextKey, reqLogger)
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			level := slog.LevelInfo
			switch {
			case wrapped.status >= 500:
				level = slog.LevelError
			case wrapped.status >= 400:
				level = slog.LevelWarn
			}

			reqLogger.Log(r.Context(), level, "request completed",
				"status", wrapped.status,
				"bytes", wrapped.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// GetLoggerFromContext returns the request-scoped logger, or a default
// development logger outside a request.
func GetLoggerFromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return NewLogger(true)
}
