package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !hasRole(RolesFromContext(c.Request().Context()), roles) {
				return forbidden(roles)
			}
			return next(c)
		}
	}
}

// RequireMethodRole checks read roles on safe methods and write roles on
// everything else.
func RequireMethodRole(read, write []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			required := write
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				required = read
			}
			if !hasRole(RolesFromContext(c.Request().Context()), required) {
				return forbidden(required)
			}
			return next(c)
		}
	}
}

func hasRole(userRoles, required []string) bool {
	for _, has := range userRoles {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

func forbidden(roles []string) error {
	return echo.NewHTTPError(http.StatusForbidden,
		fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
}
