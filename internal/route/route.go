// Package route maps inbound path prefixes to backend services and the
// per-route policy applied to their responses.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"api-gateway-go/internal/config"
)

// ErrNoRoute is returned by Lookup when no prefix covers the path.
var ErrNoRoute = errors.New("no route matches path")

// TokenSink names where a token captured from a backend response is stored.
type TokenSink int

const (
	// SinkSession stores the token as the session credential.
	SinkSession TokenSink = iota
	// SinkCookie delivers the token in the persistent cookie.
	SinkCookie
	// SinkNone drops the token.
	SinkNone
)

func (s TokenSink) String() string {
	switch s {
	case SinkSession:
		return config.SinkSession
	case SinkCookie:
		return config.SinkCookie
	default:
		return config.SinkNone
	}
}

// Field is a downstream body field a route may forward to the client.
type Field string

const (
	FieldMessage Field = "message"
	FieldData    Field = "data"
	FieldDetail  Field = "detail"
)

// Policy is the response handling declared for a route.
type Policy struct {
	TokenSink        TokenSink
	SupportsRedirect bool
	ForwardedFields  []Field
	// Public routes are proxied without a verified credential.
	Public bool
}

// Forwards reports whether f is projected into the client body.
func (p Policy) Forwards(f Field) bool {
	return slices.Contains(p.ForwardedFields, f)
}

// Rule maps a path prefix to a backend.
type Rule struct {
	Prefix         string
	Target         *url.URL
	UpstreamPrefix string
	Policy         Policy
}

// Rewrite returns the backend request URI for an inbound request URI in its
// escaped form. The prefix is matched against the decoded path, so a client
// that percent-encodes part of it is still rewritten; the remaining path and
// any query string are kept as-is.
func (r *Rule) Rewrite(requestURI string) string {
	path, query, hasQuery := strings.Cut(requestURI, "?")
	suffix := path
	if r.Prefix != "/" {
		if rest, ok := cutDecodedPrefix(path, r.Prefix); ok {
			suffix = rest
		}
	}

	out := r.UpstreamPrefix + suffix
	if r.UpstreamPrefix == "/" && strings.HasPrefix(suffix, "/") {
		out = suffix
	}
	if hasQuery {
		out += "?" + query
	}
	return out
}

// cutDecodedPrefix removes the escaped bytes of path that decode to prefix and
// returns the rest still escaped.
func cutDecodedPrefix(path, prefix string) (string, bool) {
	i := 0
	for n := 0; n < len(prefix); n++ {
		if i >= len(path) {
			return "", false
		}
		b, width := path[i], 1
		if b == '%' && i+3 <= len(path) {
			if v, err := strconv.ParseUint(path[i+1:i+3], 16, 8); err == nil {
				b, width = byte(v), 3
			}
		}
		if b != prefix[n] {
			return "", false
		}
		i += width
	}
	return path[i:], true
}

// Matches reports whether path falls under the rule's prefix on a segment boundary.
func (r *Rule) Matches(path string) bool {
	if r.Prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	rest := path[len(r.Prefix):]
	return rest == "" || rest[0] == '/'
}

// Table is the immutable set of route rules. It is safe for concurrent use.
type Table struct {
	rules []*Rule
}

// NewTable builds a Table from configuration, rejecting duplicate or
// overlapping prefixes.
func NewTable(cfg *config.Config) (*Table, error) {
	rules := make([]*Rule, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		rule, err := newRule(rc)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, rc.Prefix, err)
		}
		for _, existing := range rules {
			if overlaps(existing.Prefix, rule.Prefix) {
				return nil, fmt.Errorf("route prefix %q overlaps %q", rule.Prefix, existing.Prefix)
			}
		}
		rules = append(rules, rule)
	}
	return &Table{rules: rules}, nil
}

func newRule(rc config.RouteConfig) (*Rule, error) {
	target, err := url.Parse(rc.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	upstreamPrefix := rc.UpstreamPrefix
	if upstreamPrefix == "" {
		upstreamPrefix = rc.Prefix
	}

	policy := Policy{
		SupportsRedirect: rc.Redirect,
		Public:           rc.Public,
	}
	switch rc.TokenSink {
	case config.SinkSession, "":
		policy.TokenSink = SinkSession
	case config.SinkCookie:
		policy.TokenSink = SinkCookie
	case config.SinkNone:
		policy.TokenSink = SinkNone
	default:
		return nil, fmt.Errorf("unknown token sink %q", rc.TokenSink)
	}

	forward := rc.Forward
	if len(forward) == 0 {
		forward = []string{string(FieldMessage)}
	}
	for _, f := range forward {
		policy.ForwardedFields = append(policy.ForwardedFields, Field(f))
	}

	return &Rule{
		Prefix:         rc.Prefix,
		Target:         target,
		UpstreamPrefix: upstreamPrefix,
		Policy:         policy,
	}, nil
}

// overlaps reports whether one prefix would capture paths of the other.
func overlaps(a, b string) bool {
	if a == b || a == "/" || b == "/" {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// Match returns the rule whose prefix covers path, or nil. Prefixes are
// disjoint, so at most one rule can match.
func (t *Table) Match(path string) *Rule {
	for _, r := range t.rules {
		if r.Matches(path) {
			return r
		}
	}
	return nil
}

// Lookup is Match with ErrNoRoute for a miss.
func (t *Table) Lookup(path string) (*Rule, error) {
	if r := t.Match(path); r != nil {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRoute, path)
}

// Prefixes returns the configured prefixes in declaration order.
func (t *Table) Prefixes() []string {
	out := make([]string, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.Prefix
	}
	return out
}
