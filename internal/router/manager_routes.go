package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/model"
)

// RegisterManager mounts /v1/manager.  Managers act on the facilities they
// manage; admins may act on any facility.
func RegisterManager(v1 *echo.Group, h Handlers, m Middlewares) {
	g := v1.Group("/manager", m.privileged(model.RoleManager, model.RoleAdmin)...)

	g.POST("/facilities", h.Facilities.Create)
	g.GET("/facilities", h.Facilities.ListMine)
	g.PUT("/facilities/:id", h.Facilities.Update)
	g.PATCH("/facilities/:id", h.Facilities.Update)
	g.DELETE("/facilities/:id", h.Facilities.Delete)
	g.GET("/facilities/:id/bookings", h.Facilities.FacilityBookings)

	g.POST("/bookings/:id/cancel", h.Bookings.ManagerCancel)
	g.GET("/dashboard", h.Dashboard.Manager)
}
