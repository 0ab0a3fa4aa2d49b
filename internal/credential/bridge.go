// Package credential moves the bearer credential between the client session
// and backend requests.
package credential

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"api-gateway-go/internal/config"
	"api-gateway-go/internal/metrics"
	"api-gateway-go/internal/route"
	"api-gateway-go/internal/session"
)

// SessionSaver persists a session and issues its cookie.
type SessionSaver interface {
	Save(ctx context.Context, w http.ResponseWriter, s *session.Session) error
}

// Bridge injects the session credential into outbound requests and captures
// renewed credentials from backend responses.
type Bridge struct {
	sessions SessionSaver
	cookie   http.Cookie
	maxAge   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBridge creates a Bridge. The metrics parameter is optional.
func NewBridge(cfg *config.Config, sessions SessionSaver, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	sameSite := http.SameSiteLaxMode
	if !cfg.IsDevelopment() {
		sameSite = http.SameSiteNoneMode
	}
	maxAge := time.Duration(cfg.Cookie.MaxAgeSeconds) * time.Second

	return &Bridge{
		sessions: sessions,
		cookie: http.Cookie{
			Name:     cfg.Cookie.PersistentName,
			Path:     "/",
			MaxAge:   int(maxAge / time.Second),
			HttpOnly: true,
			Secure:   !cfg.IsDevelopment(),
			SameSite: sameSite,
		},
		maxAge:  maxAge,
		logger:  logger.With("component", "credential_bridge"),
		metrics: m,
	}
}

// Outbound returns the headers to add to a backend request for rule. With no
// credential the request is still proxied unauthenticated; the backend decides.
func (b *Bridge) Outbound(s *session.Session, rule *route.Rule) http.Header {
	h := make(http.Header)
	if s == nil || s.Credential == "" {
		b.logger.Warn("no credential in session; proxying unauthenticated", "route", rule.Prefix)
		return h
	}
	h.Set("Authorization", "Bearer "+s.Credential)
	b.logger.Debug("credential attached", "route", rule.Prefix)
	return h
}

// Capture stores token according to the route's sink. Exactly one of the
// session or the persistent cookie is written. It must run before the
// response status is written.
func (b *Bridge) Capture(ctx context.Context, w http.ResponseWriter, s *session.Session, rule *route.Rule, token string) error {
	if token == "" {
		return nil
	}

	sink := rule.Policy.TokenSink
	switch sink {
	case route.SinkSession:
		if s == nil {
			return fmt.Errorf("capture token for %s: no session", rule.Prefix)
		}
		s.Credential = token
		if err := b.sessions.Save(ctx, w, s); err != nil {
			return fmt.Errorf("capture token for %s: %w", rule.Prefix, err)
		}
		b.logger.Info("credential stored in session", "route", rule.Prefix)
	case route.SinkCookie:
		c := b.cookie
		c.Value = token
		c.Expires = time.Now().Add(b.maxAge)
		http.SetCookie(w, &c)
		b.logger.Info("credential delivered in persistent cookie", "route", rule.Prefix)
	default:
		b.logger.Debug("credential dropped by route policy", "route", rule.Prefix)
	}

	if b.metrics != nil {
		b.metrics.TokenCaptures.WithLabelValues(rule.Prefix, sink.String()).Inc()
	}
	return nil
}
