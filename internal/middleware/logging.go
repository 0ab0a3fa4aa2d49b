// Package middleware provides Echo middleware for logging, metrics, sessions
// and credential verification.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors are logged at error level and client errors at warn.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case res.Status >= 500:
				level = slog.LevelError
			case res.Status >= 400:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if s := SessionFrom(c); s != nil {
				attrs = append(attrs, "authenticated", s.Credential != "")
			}
			if ctxErr := req.Context().Err(); ctxErr != nil {
				attrs = append(attrs, "client_gone", ctxErr == context.Canceled)
			}

			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}
