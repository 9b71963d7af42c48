// Package server assembles the loopback HTTP API of the companion agent.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/platform/auth"
	"github.com/uioyp/companion/internal/platform/db"
	"github.com/uioyp/companion/internal/platform/metrics"
	"github.com/uioyp/companion/internal/platform/middleware"
)

const Version = "0.3.0"

// Registrar is implemented by domain handlers.
type Registrar interface {
	RegisterRoutes(api *echo.Group)
}

type Options struct {
	Logger    zerolog.Logger
	Sessions  auth.SessionLoader
	Metrics   *metrics.Metrics
	RateLimit middleware.RateLimitConfig
	// Pool is set when the postgres store backend is in use.
	Pool *pgxpool.Pool
}

// New builds the echo instance with global middleware, infrastructure
// endpoints and the /api/v1 routes of every module.
func New(opts Options, modules ...Registrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(opts.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(opts.Logger))
	e.Use(auth.SessionMiddleware(opts.Sessions, opts.Logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": Version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	if opts.Pool != nil {
		e.GET("/health/db", db.HealthHandler(opts.Pool))
	}

	rl := opts.RateLimit
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rl))
	for _, m := range modules {
		m.RegisterRoutes(apiV1)
	}
	return e
}

// Run serves e on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
