package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionLoader loads the current device session.
type SessionLoader interface {
	Load(ctx context.Context) (*Session, error)
}

// SessionMiddleware loads the persisted session into the request context.
// Requests without a session continue anonymously; RequireRole rejects them.
// Public paths skip session loading entirely.
func SessionMiddleware(loader SessionLoader, logger zerolog.Logger) echo.MiddlewareFunc {
	return sessionMiddleware(loader, logger, time.Now)
}

func sessionMiddleware(loader SessionLoader, logger zerolog.Logger, nowFn func() time.Time) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}
			sess, err := loader.Load(c.Request().Context())
			if err != nil {
				logger.Error().Err(err).Msg("load session")
				return echo.NewHTTPError(http.StatusInternalServerError, "session unavailable")
			}
			if sess == nil {
				return next(c)
			}
			if sess.Expired(nowFn()) {
				return echo.NewHTTPError(http.StatusUnauthorized, "session expired")
			}
			c.SetRequest(c.Request().WithContext(WithSession(c.Request().Context(), sess)))
			return next(c)
		}
	}
}

// WithSession returns a context carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the session stored by SessionMiddleware, or nil.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionKey).(*Session)
	return sess
}
