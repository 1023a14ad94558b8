package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// PoolCheck pings a pgx pool.
func PoolCheck(pool *pgxpool.Pool) Check {
	return pool.Ping
}

// CheckResult is the health of one dependency.
type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// RunChecks runs every check with a shared timeout, ordered by name.
func RunChecks(ctx context.Context, checks map[string]Check, timeout time.Duration) ([]CheckResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		r := CheckResult{Name: name, Healthy: true}
		if err := checks[name](ctx); err != nil {
			r.Healthy = false
			r.Error = err.Error()
			healthy = false
		}
		results = append(results, r)
	}
	return results, healthy
}

// HealthHandler reports the health of the given dependencies. With no checks
// the service is always healthy.
func HealthHandler(checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		results, healthy := RunChecks(c.Request().Context(), checks, 5*time.Second)
		if !healthy {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"checks": results,
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"checks": results,
		})
	}
}
