package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStatus is the pool summary reported by /health/db.
type PoolStatus struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	Max      int32 `json:"max"`
}

type dbHealth struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   PoolStatus `json:"pool"`
}

func statusOf(pool *pgxpool.Pool) PoolStatus {
	st := pool.Stat()
	return PoolStatus{
		Total:    st.TotalConns(),
		Idle:     st.IdleConns(),
		Acquired: st.AcquiredConns(),
		Max:      st.MaxConns(),
	}
}

// HealthHandler reports whether the store database answers a ping.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return healthHandler(pool.Ping, func() PoolStatus { return statusOf(pool) })
}

func healthHandler(ping func(context.Context) error, status func() PoolStatus) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		body := dbHealth{Status: "ok"}
		code := http.StatusOK
		if err := ping(ctx); err != nil {
			body.Status, body.Error = "down", err.Error()
			code = http.StatusServiceUnavailable
		}
		body.Pool = status()
		return c.JSON(code, body)
	}
}
