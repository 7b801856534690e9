package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/model"
)

// RequireRole aborts with 403 unless the caller holds one of roles.  It is
// a coarse route-level gate; the policy package still decides each
// operation.  Auth must run first.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := CallerFrom(c)
			if caller == nil {
				return apperr.Unauthenticated(apperr.CodeTokenMissing, "authentication required")
			}
			if !allowed[caller.Role] {
				return apperr.Forbidden("insufficient role")
			}
			return next(c)
		}
	}
}
