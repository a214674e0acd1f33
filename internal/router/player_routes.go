package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/middleware"
)

// RegisterPlayer mounts the signed-in endpoints under /v1.  Every role may
// call them; ownership is checked inside the handlers.  The middleware is
// attached per route because these paths share /v1 with public routes.
func RegisterPlayer(v1 *echo.Group, h Handlers, m Middlewares) {
	mw := []echo.MiddlewareFunc{m.auth(), middleware.RequireRole(allRoles...)}

	v1.GET("/me/profile", h.Profile.GetProfile, mw...)
	v1.PATCH("/me/profile", h.Profile.UpdateProfile, mw...)

	v1.POST("/bookings", h.Bookings.Create, mw...)
	v1.GET("/bookings", h.Bookings.List, mw...)
	v1.GET("/bookings/:id", h.Bookings.Get, mw...)
	v1.POST("/bookings/:id/cancel", h.Bookings.Cancel, mw...)
	v1.POST("/bookings/:id/checkout", h.Payments.Checkout, mw...)

	v1.GET("/payments", h.Payments.List, mw...)
	v1.POST("/payments/:id/verify", h.Payments.Verify, mw...)

	v1.POST("/matches", h.Matches.Create, mw...)
	v1.POST("/matches/:id/join", h.Matches.Join, mw...)
	v1.POST("/matches/:id/leave", h.Matches.Leave, mw...)
	v1.POST("/matches/:id/cancel", h.Matches.Cancel, mw...)
	v1.POST("/matches/:id/result", h.Matches.Result, mw...)

	v1.GET("/chat/rooms", h.Chat.ListRooms, mw...)
	v1.POST("/chat/rooms", h.Chat.CreateRoom, mw...)
	v1.GET("/chat/rooms/:id/messages", h.Chat.Messages, mw...)
	v1.POST("/chat/rooms/:id/messages", h.Chat.PostMessage, mw...)

	v1.GET("/notifications", h.Notifications.List, mw...)
	v1.POST("/notifications/:id/read", h.Notifications.MarkRead, mw...)
}
