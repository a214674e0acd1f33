package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/repository"
)

// NotificationHandler lists and acknowledges the caller's notifications.
type NotificationHandler struct {
	Notifications *repository.NotificationRepo
	Log           *slog.Logger
}

func NewNotificationHandler(n *repository.NotificationRepo, log *slog.Logger) *NotificationHandler {
	return &NotificationHandler{Notifications: n, Log: log}
}

// List handles GET /v1/notifications?unread=true&limit=.
func (h *NotificationHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	unread, _ := strconv.ParseBool(c.QueryParam("unread"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > maxPageSize {
		limit = 50
	}
	ns, err := h.Notifications.ListByUser(c.Request().Context(), uid, unread, limit)
	if err != nil {
		return respondErr(c, h.Log, "handler.Notification.List", err)
	}
	return c.JSON(http.StatusOK, ns)
}

// MarkRead handles POST /v1/notifications/:id/read.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid notification id"})
	}
	if err := h.Notifications.MarkRead(c.Request().Context(), id, uid); err != nil {
		return respondErr(c, h.Log, "handler.Notification.MarkRead", err)
	}
	return c.NoContent(http.StatusNoContent)
}
