package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/uioyp/companion/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns the loopback API defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
	}
}

// limiters hands out one rate.Limiter per caller key.
type limiters struct {
	cfg RateLimitConfig

	mu  sync.Mutex
	set map[string]*rate.Limiter
}

func (l *limiters) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.set[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.BurstSize)
		l.set[key] = lim
	}
	return lim
}

// RateLimit limits requests per client IP, and per user when a session is
// present.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(cfg, time.Now)
}

func rateLimit(cfg RateLimitConfig, nowFn func() time.Time) echo.MiddlewareFunc {
	pool := &limiters{cfg: cfg, set: make(map[string]*rate.Limiter)}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			now := nowFn()
			res := pool.get(callerKey(c)).ReserveN(now, 1)
			if !res.OK() {
				h.Set("Retry-After", "1")
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if delay := res.DelayFrom(now); delay > 0 {
				res.CancelAt(now)
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func callerKey(c echo.Context) string {
	key := c.RealIP()
	if sess := auth.SessionFromContext(c.Request().Context()); sess != nil && sess.UserID != 0 {
		key = "user:" + strconv.Itoa(sess.UserID) + ":" + key
	}
	return key
}

func retryAfterSeconds(delay time.Duration) int {
	s := int(math.Ceil(delay.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
