package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass token authentication: health checks and the login
// endpoints that issue tokens in the first place.
var publicPaths = map[string]bool{
	"/health/":               true,
	"/login/":                true,
	"/auth/login/":           true,
	"/google/login/":         true,
	"/auth/google/callback/": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// NewSkipper extends the public paths with deployment-specific routes such
// as the post-login landing page.
func NewSkipper(extra ...string) func(echo.Context) bool {
	if len(extra) == 0 {
		return AuthSkipper
	}
	paths := make(map[string]bool, len(publicPaths)+len(extra))
	for p := range publicPaths {
		paths[p] = true
	}
	for _, p := range extra {
		paths[p] = true
	}
	return func(c echo.Context) bool {
		return paths[c.Path()]
	}
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
