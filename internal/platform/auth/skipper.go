package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists routes that bypass authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
