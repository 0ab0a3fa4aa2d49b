package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"api-gateway-go/internal/credential"
	"api-gateway-go/internal/metrics"
	"api-gateway-go/internal/middleware"
	"api-gateway-go/internal/model"
	"api-gateway-go/internal/proxyerr"
	"api-gateway-go/internal/route"
	"api-gateway-go/internal/service"
	"api-gateway-go/internal/transform"
)

// NotFoundMessage is returned for paths no route covers.
const NotFoundMessage = "The endpoint called does not exist."

// ProxyHandler routes client requests to backends and returns the transformed
// backend response.
type ProxyHandler struct {
	routes      *route.Table
	service     *service.ProxyService
	bridge      *credential.Bridge
	transformer *transform.Transformer
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(
	routes *route.Table,
	svc *service.ProxyService,
	bridge *credential.Bridge,
	tr *transform.Transformer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ProxyHandler {
	return &ProxyHandler{
		routes:      routes,
		service:     svc,
		bridge:      bridge,
		transformer: tr,
		metrics:     m,
		logger:      logger.With("component", "proxy_handler"),
	}
}

// Handle proxies one request. The backend body is buffered in full before
// anything is written to the client.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	rule, err := h.routes.Lookup(req.URL.Path)
	if err != nil {
		return h.NotFound(c)
	}

	s := middleware.SessionFrom(c)
	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		RequestURI:    req.URL.RequestURI(),
		Method:        req.Method,
		Path:          req.URL.Path,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		RemoteIP:      c.RealIP(),
		Scheme:        c.Scheme(),
		Host:          req.Host,
		RequestID:     c.Response().Header().Get(echo.HeaderXRequestID),
	}

	resp, err := h.service.Forward(pr, rule, h.bridge.Outbound(s, rule))
	if err != nil {
		return h.transportFailure(c, rule, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := h.transformer.Buffer(resp.Body)
	if err != nil && !errors.Is(err, transform.ErrTooLarge) {
		return h.transportFailure(c, rule, err)
	}

	var res transform.Result
	if err != nil {
		res = transform.MalformedResult()
		res.Err = err
	} else {
		res = h.transformer.Transform(resp.StatusCode, body, rule.Policy)
	}

	if clientGone(req.Context()) {
		h.logger.Info("client disconnected before response", "route", rule.Prefix, "path", req.URL.Path)
		return nil
	}

	if res.Token != "" {
		if err := h.bridge.Capture(req.Context(), c.Response(), s, rule, res.Token); err != nil {
			h.logger.Error("capturing credential", "err", err, "route", rule.Prefix)
		}
	}

	if res.State == transform.Malformed {
		h.logger.Error("malformed backend response",
			"err", res.Err,
			"route", rule.Prefix,
			"upstream_status", resp.StatusCode,
		)
	}
	h.countOutcome(rule, res.State.String())

	if res.State == transform.Redirect {
		return c.Redirect(res.Status, res.RedirectURL)
	}
	return c.Blob(res.Status, echo.MIMEApplicationJSON, res.Body)
}

// NotFound answers paths outside every route.
func (h *ProxyHandler) NotFound(c echo.Context) error {
	h.logger.Error("no route for path", "method", c.Request().Method, "path", c.Request().URL.Path)
	return c.JSON(http.StatusNotFound, model.MessageBody{Message: NotFoundMessage})
}

func (h *ProxyHandler) transportFailure(c echo.Context, rule *route.Rule, err error) error {
	if clientGone(c.Request().Context()) {
		h.logger.Info("client disconnected during backend call", "route", rule.Prefix, "err", err)
		return nil
	}

	pe := proxyerr.Classify(err)
	mapped := proxyerr.Map(pe)
	h.logger.Error("backend transport failure",
		"err", err,
		"kind", pe.Kind.String(),
		"route", rule.Prefix,
		"path", c.Request().URL.Path,
		"status", mapped.Status,
	)
	if h.metrics != nil {
		h.metrics.TransportFailures.WithLabelValues(rule.Prefix, pe.Kind.String()).Inc()
	}
	h.countOutcome(rule, "transport_failure")
	return c.JSON(mapped.Status, model.MessageBody{Message: mapped.Message})
}

func (h *ProxyHandler) countOutcome(rule *route.Rule, outcome string) {
	if h.metrics != nil {
		h.metrics.ResponseOutcomes.WithLabelValues(rule.Prefix, outcome).Inc()
	}
}

func clientGone(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
