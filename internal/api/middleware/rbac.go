package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireGroup lets the request through when the session carries at least one
// of the given groups.
func RequireGroup(groups ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		allowed[g] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			have, _ := c.Get(CtxGroups).([]string)
			for _, g := range have {
				if _, ok := allowed[g]; ok {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
		}
	}
}
