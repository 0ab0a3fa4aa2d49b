package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"api-gateway-go/internal/client"
	"api-gateway-go/internal/config"
	"api-gateway-go/internal/model"
	"api-gateway-go/internal/route"
)

func mustRule(t *testing.T, prefix, target string) *route.Rule {
	t.Helper()
	u, err := url.Parse(target)
	if err != nil {
		t.Fatal(err)
	}
	return &route.Rule{Prefix: prefix, Target: u, UpstreamPrefix: prefix}
}

func TestFilterRequestHeaders(t *testing.T) {
	s := &ProxyService{}
	pr := &model.ProxyRequest{
		Header: http.Header{
			"Accept":          {"application/json"},
			"Content-Type":    {"application/json"},
			"Authorization":   {"Bearer forged"},
			"Cookie":          {"session=abc"},
			"Connection":      {"keep-alive, X-Drop-Me"},
			"X-Drop-Me":       {"1"},
			"Accept-Encoding": {"gzip"},
			"X-Custom-Header": {"kept"},
			"X-Forwarded-For": {"1.2.3.4"},
		},
		RemoteIP:  "5.6.7.8",
		Scheme:    "https",
		Host:      "api.example.com",
		RequestID: "req-1",
	}

	dst := s.filterRequestHeaders(pr)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"Accept forwarded", "Accept", "application/json"},
		{"Content-Type forwarded", "Content-Type", "application/json"},
		{"custom header forwarded", "X-Custom-Header", "kept"},
		{"inbound Authorization stripped", "Authorization", ""},
		{"Cookie stripped", "Cookie", ""},
		{"Connection stripped", "Connection", ""},
		{"Connection-listed header stripped", "X-Drop-Me", ""},
		{"Accept-Encoding stripped", "Accept-Encoding", ""},
		{"X-Forwarded-For appended", "X-Forwarded-For", "1.2.3.4, 5.6.7.8"},
		{"X-Forwarded-Proto set", "X-Forwarded-Proto", "https"},
		{"X-Forwarded-Host set", "X-Forwarded-Host", "api.example.com"},
		{"X-Request-Id set", "X-Request-Id", "req-1"},
		{"User-Agent injected", "User-Agent", userAgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dst.Get(tt.key); got != tt.want {
				t.Errorf("header %q = %q, want %q", tt.key, got, tt.want)
			}
		})
	}

	if pr.Header.Get("Authorization") == "" {
		t.Error("filterRequestHeaders must not mutate the inbound header")
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name   string
		target string
		uri    string
		want   string
	}{
		{"simple", "http://auth:4001", "/v1/auth/signin", "http://auth:4001/v1/auth/signin"},
		{"query preserved", "http://company:4003", "/v1/company/list?page=2&sort=-name", "http://company:4003/v1/company/list?page=2&sort=-name"},
		{"target base path", "http://company:4003/svc/", "/v1/company/1", "http://company:4003/svc/v1/company/1"},
		{"escaped segment", "http://company:4003", "/v1/company/a%2Fb", "http://company:4003/v1/company/a%2Fb"},
		{"escaped space", "http://company:4003", "/v1/company/a%20b?q=x%20y", "http://company:4003/v1/company/a%20b?q=x%20y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix := "/v1/auth"
			if strings.HasPrefix(tt.uri, "/v1/company") {
				prefix = "/v1/company"
			}
			if got := BuildURL(mustRule(t, prefix, tt.target), tt.uri); got != tt.want {
				t.Errorf("BuildURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForward_HappyPath(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer backend.Close()

	cfg := &config.Config{Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 10}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewProxyService(client.NewBackendClient(cfg, logger, nil), logger)

	payload := `{"email":"a@b.c"}`
	pr := &model.ProxyRequest{
		Ctx:           context.Background(),
		RequestURI:    "/v1/auth/signin?remember=1",
		Method:        http.MethodPost,
		Path:          "/v1/auth/signin",
		Header:        http.Header{"Authorization": {"Bearer forged"}},
		Body:          io.NopCloser(strings.NewReader(payload)),
		ContentLength: int64(len(payload)),
	}
	outbound := http.Header{"Authorization": {"Bearer abc123"}}

	resp, err := svc.Forward(pr, mustRule(t, "/v1/auth", backend.URL), outbound)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if gotPath != "/v1/auth/signin" || gotQuery != "remember=1" {
		t.Errorf("backend saw %s?%s", gotPath, gotQuery)
	}
	if gotAuth != "Bearer abc123" {
		t.Errorf("backend Authorization = %q, want session credential", gotAuth)
	}
	if gotBody != payload {
		t.Errorf("backend body = %q, want %q", gotBody, payload)
	}
}

func TestForward_ConnectionError(t *testing.T) {
	cfg := &config.Config{Upstream: config.UpstreamConfig{TimeoutSeconds: 2, IdleConnections: 1}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewProxyService(client.NewBackendClient(cfg, logger, nil), logger)

	pr := &model.ProxyRequest{
		Ctx:        context.Background(),
		RequestURI: "/v1/auth",
		Method:     http.MethodGet,
		Header:     http.Header{},
		Body:       http.NoBody,
	}
	_, err := svc.Forward(pr, mustRule(t, "/v1/auth", "http://127.0.0.1:1"), http.Header{})
	if err == nil {
		t.Fatal("Forward() expected error for closed port")
	}
	if !strings.Contains(err.Error(), "forward to 127.0.0.1:1") {
		t.Errorf("error = %q, want target host context", err)
	}
}
