package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
)

var corsMethods = strings.Join([]string{
	http.MethodOptions, http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
}, ", ")

// CORS allows browser dashboards whose Origin matches pattern to call the
// operator api. A nil pattern disables the middleware.
func CORS(pattern *regexp.Regexp) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if pattern == nil {
			return next
		}
		return func(c echo.Context) error {
			header := c.Response().Header()
			header.Add(echo.HeaderVary, echo.HeaderOrigin)
			origin := c.Request().Header.Get(echo.HeaderOrigin)
			if origin == "" || !pattern.MatchString(origin) {
				return next(c)
			}
			header.Set(echo.HeaderAccessControlAllowOrigin, origin)
			if c.Request().Method != http.MethodOptions {
				return next(c)
			}
			// Safari does not treat "*" as covering Authorization.
			header.Set(echo.HeaderAccessControlAllowHeaders, "*, Authorization")
			header.Set(echo.HeaderAccessControlAllowMethods, corsMethods)
			return c.NoContent(http.StatusNoContent)
		}
	}
}
