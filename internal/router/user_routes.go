package router

import (
	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/handler"
	"github.com/deskline/servicedesk/internal/middleware"
	"github.com/deskline/servicedesk/internal/model"
)

// RegisterUsers mounts /api/users.  Listing, creating and deleting are
// admin only; get and update also serve the account owner.
func RegisterUsers(e *echo.Echo, h *handler.UserHandler, authn middleware.Authenticator) {
	g := e.Group("/api/users", middleware.Auth(authn))
	admin := middleware.RequireRole(model.RoleAdmin)

	g.GET("", h.List, admin)
	g.POST("", h.Create, admin)
	g.GET("/staff", h.Staff, middleware.RequireRole(model.RoleServiceDesk, model.RoleAdmin))
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete, admin)
}
