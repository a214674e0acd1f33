package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Health is the liveness probe.  It returns "ok" whenever the process
// serves HTTP.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Readiness checks the backing stores.
type Readiness struct {
	DB    *sql.DB
	Redis *redis.Client // optional
}

// Ready handles GET /readyz: 200 when MySQL (and Redis, if configured)
// answer a ping within two seconds, 503 otherwise.
func (r *Readiness) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := echo.Map{}
	healthy := true
	if err := r.DB.PingContext(ctx); err != nil {
		checks["mysql"] = err.Error()
		healthy = false
	} else {
		checks["mysql"] = "ok"
	}
	if r.Redis != nil {
		if err := r.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, echo.Map{"ready": healthy, "checks": checks})
}
