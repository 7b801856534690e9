package router

import (
	"github.com/labstack/echo/v4"

	"github.com/deskline/servicedesk/internal/handler"
	"github.com/deskline/servicedesk/internal/middleware"
	"github.com/deskline/servicedesk/internal/model"
)

// RegisterReports mounts /api/reports.  Every route needs a bearer token;
// the staff-only lifecycle actions are also gated by role here, and the
// policy decides the rest per report.
func RegisterReports(e *echo.Echo, h *handler.ReportHandler, authn middleware.Authenticator) {
	g := e.Group("/api/reports", middleware.Auth(authn))
	staff := middleware.RequireRole(model.RoleServiceDesk, model.RoleAdmin)

	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/stats", h.Stats)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/history", h.History)
	g.POST("/:id/rate", h.Rate)

	g.POST("/:id/assign", h.Assign, staff)
	g.POST("/:id/resolve", h.Resolve, staff)
	g.POST("/:id/close", h.Close, staff)
}
