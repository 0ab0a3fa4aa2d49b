package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"api-gateway-go/internal/client"
	"api-gateway-go/internal/config"
	"api-gateway-go/internal/credential"
	"api-gateway-go/internal/handler"
	"api-gateway-go/internal/metrics"
	"api-gateway-go/internal/middleware"
	"api-gateway-go/internal/route"
	"api-gateway-go/internal/service"
	"api-gateway-go/internal/session"
	"api-gateway-go/internal/transform"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("api-gateway"),
		kong.Description("API gateway that routes clients to backend services and manages their credentials."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			route.NewTable,
			newMetrics,
			newSessionStore,
			session.NewManager,
			func(m *session.Manager) credential.SessionSaver { return m },
			credential.NewBridge,
			newTransformer,
			client.NewBackendClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newEcho,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h).With("env", cfg.Env)
}

func newMetrics(cfg *config.Config, routes *route.Table) *metrics.Metrics {
	scrapePath := ""
	if cfg.Metrics.Enabled {
		scrapePath = cfg.Metrics.Path
	}
	return metrics.New(scrapePath, routes.Prefixes()...)
}

func newTransformer(cfg *config.Config) *transform.Transformer {
	return transform.New(cfg.Upstream.MaxResponseBytes)
}

// newSessionStore builds the configured store. A redis store is pinged on
// start and closed on stop.
func newSessionStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (session.Store, error) {
	store, err := session.NewStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if rs, ok := store.(*session.RedisStore); ok {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := rs.Ping(ctx); err != nil {
					return fmt.Errorf("session store: %w", err)
				}
				logger.Info("connected to redis session store")
				return nil
			},
			OnStop: func(context.Context) error {
				return rs.Close()
			},
		})
	}
	return store, nil
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, sessions *session.Manager, routes *route.Table) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// The backend client timeout bounds every response, so writes need a
	// margin above it.
	e.Server.WriteTimeout = time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second + 10*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.MetricsMiddleware(m, metricsPath))
	e.Use(middleware.Sessions(sessions, logger))

	if cfg.Auth.JWTSecret != "" {
		e.Use(middleware.RequireCredential(cfg.Auth.JWTSecret, routes, logger))
		logger.Info("credential verification enabled for non-public routes")
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, routes *route.Table, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "routes", routes.Prefixes())
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
