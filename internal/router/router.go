package router

import (
	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/handler"
	"github.com/deskline/servicedesk/internal/metrics"
	"github.com/deskline/servicedesk/internal/middleware"
)

// Deps carries everything the route table needs.
type Deps struct {
	Auth    *handler.AuthHandler
	Reports *handler.ReportHandler
	Users   *handler.UserHandler
	Offices *handler.OfficeHandler

	Authenticator middleware.Authenticator
	DB            handler.Pinger
	Metrics       *metrics.Metrics

	// AuthLimiter guards the public auth endpoints.  OfficeCache wraps the
	// public office reads.  Either may be nil.
	AuthLimiter echo.MiddlewareFunc
	OfficeCache echo.MiddlewareFunc
}

// Register mounts the whole API on e.
func Register(e *echo.Echo, d Deps) {
	RegisterRoutes(e, d.DB, d.Metrics)
	RegisterAuth(e, d.Auth, d.Authenticator, d.AuthLimiter)
	RegisterReports(e, d.Reports, d.Authenticator)
	RegisterUsers(e, d.Users, d.Authenticator)
	RegisterOffices(e, d.Offices, d.Authenticator, d.OfficeCache)
}

// RegisterRoutes mounts the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, m *metrics.Metrics) {
	e.GET("/healthz", handler.Health(db))
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
}

// RegisterAuth mounts /api/auth.  Register, login and refresh are public
// and rate limited; the rest need a bearer token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, authn middleware.Authenticator, limiter echo.MiddlewareFunc) {
	var mw []echo.MiddlewareFunc
	if limiter != nil {
		mw = append(mw, limiter)
	}
	g := e.Group("/api/auth", mw...)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)

	protected := g.Group("", middleware.Auth(authn))
	protected.POST("/logout", a.Logout)
	protected.GET("/me", a.Me)
	protected.POST("/change-password", a.ChangePassword)
}
