package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/model"
)

// RegisterAdmin mounts /v1/admin for the ADMIN role only.
func RegisterAdmin(v1 *echo.Group, h Handlers, m Middlewares) {
	g := v1.Group("/admin", m.privileged(model.RoleAdmin)...)

	g.GET("/dashboard", h.Dashboard.Admin)
	g.GET("/users", h.AdminUsers.List)
	g.PATCH("/users/:id", h.AdminUsers.Update)
}
