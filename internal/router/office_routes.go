package router

import (
	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/handler"
	"github.com/deskline/servicedesk/internal/middleware"
	"github.com/deskline/servicedesk/internal/model"
)

// RegisterOffices mounts /api/offices.  Reads are public and go through
// cache when one is configured; writes need an admin token.
func RegisterOffices(e *echo.Echo, h *handler.OfficeHandler, authn middleware.Authenticator, cache echo.MiddlewareFunc) {
	var read []echo.MiddlewareFunc
	if cache != nil {
		read = append(read, cache)
	}
	e.GET("/api/offices", h.List, read...)
	e.GET("/api/offices/:id", h.Get, read...)

	g := e.Group("/api/offices", middleware.Auth(authn), middleware.RequireRole(model.RoleAdmin))
	g.POST("", h.Create)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}
