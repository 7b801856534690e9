package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/model"
)

// callerKey is the echo context key holding the authenticated account.
const callerKey = "caller"

// SetCaller stores the authenticated account on the request context.
func SetCaller(c echo.Context, a *model.Account) { c.Set(callerKey, a) }

// CallerFrom returns the account stored by Auth, or nil for anonymous
// requests.
func CallerFrom(c echo.Context) *model.Account {
	a, _ := c.Get(callerKey).(*model.Account)
	return a
}

// callerID identifies the caller for logs and rate-limit keys.  It returns
// "anon" when no account is authenticated.
func callerID(c echo.Context) string {
	if a := CallerFrom(c); a != nil {
		return strconv.FormatUint(a.ID, 10)
	}
	return "anon"
}
