package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"api-gateway-go/internal/session"
)

// Sessions loads the client's session into the echo context. A store failure
// degrades to an empty session so unauthenticated proxying still works.
func Sessions(mgr *session.Manager, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "session_middleware")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, err := mgr.Load(c.Request())
			if err != nil {
				logger.Error("loading session", "err", err, "path", c.Request().URL.Path)
				s = &session.Session{}
			}
			c.Set(session.ContextKey, s)
			return next(c)
		}
	}
}

// SessionFrom returns the session loaded by Sessions, or nil.
func SessionFrom(c echo.Context) *session.Session {
	s, _ := c.Get(session.ContextKey).(*session.Session)
	return s
}
