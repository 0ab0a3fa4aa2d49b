package middleware

import (
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"api-gateway-go/internal/model"
	"api-gateway-go/internal/route"
)

// SubjectKey is the echo context key holding the verified credential's subject.
const SubjectKey = "credential_subject"

// NotAuthorizedMessage is returned when a protected route is called without a
// valid credential.
const NotAuthorizedMessage = "Not authorized, please login"

// RequireCredential rejects requests for non-public routes whose session does
// not hold a valid HS256 credential signed with secret. Unmatched paths and
// public routes pass through. Sessions must run first.
func RequireCredential(secret string, routes *route.Table, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "auth_middleware")
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rule := routes.Match(c.Request().URL.Path)
			if rule == nil || rule.Policy.Public {
				return next(c)
			}

			s := SessionFrom(c)
			if s == nil || s.Credential == "" {
				logger.Warn("missing credential for protected route", "route", rule.Prefix)
				return c.JSON(http.StatusUnauthorized, model.MessageBody{Message: NotAuthorizedMessage})
			}

			claims := &jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(s.Credential, claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				logger.Warn("rejected session credential", "route", rule.Prefix, "err", err)
				return c.JSON(http.StatusUnauthorized, model.MessageBody{Message: NotAuthorizedMessage})
			}

			c.Set(SubjectKey, claims.Subject)
			return next(c)
		}
	}
}
