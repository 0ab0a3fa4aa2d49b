// Package service implements forwarding of client requests to backends.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"api-gateway-go/internal/client"
	"api-gateway-go/internal/model"
	"api-gateway-go/internal/route"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// droppedRequestHeaders never reach a backend. Credentials come only from the
// session, and the response must arrive uncompressed to be rewritten.
var droppedRequestHeaders = []string{
	"Authorization",
	"Cookie",
	"Accept-Encoding",
	"Content-Length",
	"Host",
}

const userAgent = "api-gateway-go/1.0"

// ProxyService builds and sends backend requests.
type ProxyService struct {
	client *client.BackendClient
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.BackendClient, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		logger: logger.With("component", "proxy_service"),
	}
}

// Forward sends pr to the backend of rule with the outbound headers added.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest, rule *route.Rule, outbound http.Header) (*model.ProxyResponse, error) {
	target := BuildURL(rule, pr.RequestURI)
	header := s.filterRequestHeaders(pr)
	for k, vals := range outbound {
		header[k] = vals
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"route", rule.Prefix,
		"target", target,
		"headers", headerNames(header),
	)

	resp, err := s.client.Send(pr.Ctx, rule, client.Outbound{
		Method:        pr.Method,
		URL:           target,
		Header:        header,
		Body:          pr.Body,
		ContentLength: pr.ContentLength,
	})
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", rule.Target.Host, err)
	}
	return resp, nil
}

// BuildURL joins the rule's target with the rewritten request URI.
func BuildURL(rule *route.Rule, requestURI string) string {
	rewritten := rule.Rewrite(requestURI)
	path, rawQuery, _ := strings.Cut(rewritten, "?")

	u := *rule.Target
	u.Path = strings.TrimSuffix(rule.Target.Path, "/") + path
	u.RawPath = ""
	if unescaped, err := url.PathUnescape(u.Path); err == nil && unescaped != u.Path {
		u.RawPath = u.Path
		u.Path = unescaped
	}
	u.RawQuery = rawQuery
	return u.String()
}

func (s *ProxyService) filterRequestHeaders(pr *model.ProxyRequest) http.Header {
	dst := pr.Header.Clone()
	if dst == nil {
		dst = make(http.Header)
	}

	// Headers named in Connection are hop-by-hop for this request.
	for _, v := range dst.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	for _, h := range droppedRequestHeaders {
		dst.Del(h)
	}

	if pr.RemoteIP != "" {
		if prior := dst.Get("X-Forwarded-For"); prior != "" {
			dst.Set("X-Forwarded-For", prior+", "+pr.RemoteIP)
		} else {
			dst.Set("X-Forwarded-For", pr.RemoteIP)
		}
	}
	if pr.Scheme != "" {
		dst.Set("X-Forwarded-Proto", pr.Scheme)
	}
	if pr.Host != "" {
		dst.Set("X-Forwarded-Host", pr.Host)
	}
	if pr.RequestID != "" {
		dst.Set("X-Request-Id", pr.RequestID)
	}
	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", userAgent)
	}
	return dst
}

// headerNames lists header names for logging without their values.
func headerNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
