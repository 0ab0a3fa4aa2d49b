// Package client sends requests to the gateway's backend services.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"api-gateway-go/internal/config"
	"api-gateway-go/internal/metrics"
	"api-gateway-go/internal/model"
	"api-gateway-go/internal/route"
)

// statusError labels upstream calls that produced no response.
const statusError = "error"

// Outbound is a request bound for one route's backend.
type Outbound struct {
	Method string
	// URL is the absolute backend URL, already rewritten for the route.
	URL    string
	Header http.Header
	Body   io.Reader

	// ContentLength is negative when unknown.
	ContentLength int64
}

// BackendClient is the pooled HTTP client shared by every route. It never
// follows redirects: a backend 3xx is handed to the response transformer as-is.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient. The metrics parameter is optional.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	return &BackendClient{
		httpClient: &http.Client{
			Transport: newTransport(cfg.Upstream),
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:     logger.With("component", "backend_client"),
		metrics:    m,
	}
}

func newTransport(cfg config.UpstreamConfig) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.IdleConnections,
		MaxIdleConnsPerHost: cfg.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Bodies are rewritten, so they must arrive as the backend wrote them.
		DisableCompression: true,
	}
}

// Send delivers out to the backend of rule. The call is bound to ctx, so a
// client that disconnects aborts it. The caller closes the response body.
func (c *BackendClient) Send(ctx context.Context, rule *route.Rule, out Outbound) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, out.Body)
	if err != nil {
		return nil, fmt.Errorf("backend %s: build request: %w", rule.Prefix, err)
	}
	req.Header = out.Header
	if out.Body != nil && out.Body != http.NoBody {
		req.ContentLength = out.ContentLength
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	took := time.Since(start)

	if err != nil {
		c.observe(rule, req.Method, statusError, took)
		c.logger.Debug("backend call failed", "route", rule.Prefix, "method", req.Method, "err", err)
		return nil, fmt.Errorf("backend %s: %w", rule.Prefix, err)
	}

	c.observe(rule, req.Method, strconv.Itoa(resp.StatusCode), took)
	c.logger.Debug("backend responded",
		"route", rule.Prefix,
		"method", req.Method,
		"status", resp.StatusCode,
		"duration_ms", took.Milliseconds(),
	)

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func (c *BackendClient) observe(rule *route.Rule, method, status string, took time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(rule.Prefix, metrics.NormalizeMethod(method)).Observe(took.Seconds())
	c.metrics.UpstreamResponses.WithLabelValues(rule.Prefix, status).Inc()
}
