// Package http provides the HTTP server implementation for the orchestrator.
package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xiaot623/appforge/internal/service"
	v1 "github.com/xiaot623/appforge/internal/transport/http/v1"
)

// Options configures the external server.
type Options struct {
	PollInterval time.Duration
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
}

// NewExternalServer creates and configures the external-facing HTTP server.
// It serves the pipeline API, the run journal, health and metrics.
func NewExternalServer(svc *service.Service, opts Options) *echo.Echo {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(RequestLogger(opts.Logger.Named("http")))

	// Handlers
	v1Handler := v1.NewHandler(svc, opts.PollInterval)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	return e
}

// RequestLogger logs every request through zap.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			}
			// The state endpoint is polled every couple of seconds.
			if c.Path() == "/v1/pipeline/state" {
				logger.Debug("http request", fields...)
			} else {
				logger.Info("http request", fields...)
			}
			return nil
		}
	}
}
