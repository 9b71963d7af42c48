package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that bypass session loading. These are
// infrastructure endpoints and the login endpoint itself.
var publicPaths = map[string]bool{
	"/health":        true,
	"/health/db":     true,
	"/metrics":       true,
	"/api/v1/login":  true,
	"/api/v1/logout": true,
	"/api/v1/stages": true,
}

// AuthSkipper returns true for requests whose route should skip session
// loading.
func AuthSkipper(c echo.Context) bool {
	if c.Path() != "" {
		return publicPaths[c.Path()]
	}
	return publicPaths[c.Request().URL.Path]
}

// IsPublicPath reports whether the given path is a public endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
