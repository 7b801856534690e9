package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/model"
)

// Authenticator resolves an Authorization header into an account.
// *service.AccountService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*model.Account, error)
}

// Auth rejects requests without a valid bearer access token and stores the
// caller's account for handlers.  The account is loaded per request, so
// role changes and deactivation take effect before the token expires.
// Failures are returned as application errors and rendered by the error
// handler with distinct codes for missing, expired and invalid tokens.
func Auth(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			acct, err := a.Authenticate(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			SetCaller(c, acct)
			return next(c)
		}
	}
}
