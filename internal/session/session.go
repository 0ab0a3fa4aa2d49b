// Package session holds the per-client credential the gateway forwards to
// backends. The session id travels in a signed cookie; the record itself lives
// in a Store.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"api-gateway-go/internal/config"
)

// ContextKey is the echo context key under which the request's *Session is stored.
const ContextKey = "session"

// ErrNotFound is returned by a Store when no live record exists for an id.
var ErrNotFound = errors.New("session not found")

// Record is the stored part of a session.
type Record struct {
	Credential string `json:"credential,omitempty"`
}

// Store persists session records. Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, id string, rec Record, ttl time.Duration) error
}

// Session is the state of one client. It belongs to a single request and is
// not shared across goroutines.
type Session struct {
	// Credential is the bearer token, empty when the client has none.
	Credential string

	id string
}

// ID returns the session id, or "" for a session not yet persisted.
func (s *Session) ID() string { return s.id }

// Manager loads and saves sessions through the session cookie.
type Manager struct {
	store    Store
	name     string
	keys     [][]byte
	maxAge   time.Duration
	secure   bool
	sameSite http.SameSite
	logger   *slog.Logger
}

// NewManager creates a Manager from the session configuration. The first key
// signs new cookies; every key is accepted when verifying.
func NewManager(cfg *config.Config, store Store, logger *slog.Logger) (*Manager, error) {
	if len(cfg.Session.Keys) == 0 {
		return nil, fmt.Errorf("session: at least one signing key is required")
	}
	keys := make([][]byte, len(cfg.Session.Keys))
	for i, k := range cfg.Session.Keys {
		keys[i] = []byte(k)
	}

	sameSite := http.SameSiteLaxMode
	if !cfg.IsDevelopment() {
		sameSite = http.SameSiteNoneMode
	}

	return &Manager{
		store:    store,
		name:     cfg.Session.CookieName,
		keys:     keys,
		maxAge:   time.Duration(cfg.Session.MaxAgeSeconds) * time.Second,
		secure:   !cfg.IsDevelopment(),
		sameSite: sameSite,
		logger:   logger.With("component", "session"),
	}, nil
}

// Load returns the request's session. A missing, forged or expired cookie
// yields an empty session rather than an error; only store failures are returned.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.name)
	if err != nil {
		return &Session{}, nil
	}

	id, ok := m.verify(c.Value)
	if !ok {
		m.logger.Warn("rejected session cookie with invalid signature")
		return &Session{}, nil
	}

	rec, err := m.store.Load(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		return &Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", id, err)
	}
	return &Session{id: id, Credential: rec.Credential}, nil
}

// Save persists the session and, for a new session, issues its cookie. It must
// be called before the response status is written.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if err := m.store.Save(ctx, s.id, Record{Credential: s.Credential}, m.maxAge); err != nil {
		return fmt.Errorf("session: save %s: %w", s.id, err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    m.sign(s.id),
		Path:     "/",
		MaxAge:   int(m.maxAge / time.Second),
		Expires:  time.Now().Add(m.maxAge),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite,
	})
	return nil
}

func (m *Manager) sign(id string) string {
	return id + "." + mac(m.keys[0], id)
}

func (m *Manager) verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	for _, k := range m.keys {
		if hmac.Equal([]byte(sig), []byte(mac(k, id))) {
			return id, true
		}
	}
	return "", false
}

func mac(key []byte, id string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
