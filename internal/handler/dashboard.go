package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/service"
)

const (
	topFacilities = 5
	occupancyDays = 30
)

// DashboardHandler serves the admin and manager aggregates.
type DashboardHandler struct {
	Dashboard *repository.DashboardRepo
	Log       *slog.Logger
	Now       func() time.Time
}

func (h *DashboardHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Admin handles GET /v1/admin/dashboard.
func (h *DashboardHandler) Admin(c echo.Context) error {
	const op = "handler.Dashboard.Admin"
	ctx := c.Request().Context()
	rev, err := h.Dashboard.Revenue(ctx, 0, h.now())
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	users, err := h.Dashboard.UsersByRole(ctx)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	bookings, err := h.Dashboard.BookingsByStatus(ctx, 0)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	top, err := h.Dashboard.TopFacilities(ctx, 0, topFacilities)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"revenue":        rev,
		"users_by_role":  users,
		"bookings":       bookings,
		"top_facilities": top,
	})
}

// Manager handles GET /v1/manager/dashboard: the same aggregates limited to
// the caller's facilities plus occupancy over the last 30 days.
func (h *DashboardHandler) Manager(c echo.Context) error {
	const op = "handler.Dashboard.Manager"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()
	now := h.now().UTC()
	rev, err := h.Dashboard.Revenue(ctx, uid, now)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	bookings, err := h.Dashboard.BookingsByStatus(ctx, uid)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	top, err := h.Dashboard.TopFacilities(ctx, uid, topFacilities)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	from := now.AddDate(0, 0, -occupancyDays)
	booked, open, err := h.Dashboard.Occupancy(ctx, uid, from, now)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"revenue":        rev,
		"bookings":       bookings,
		"top_facilities": top,
		"occupancy": echo.Map{
			"from":           from,
			"to":             now,
			"booked_minutes": booked,
			"open_minutes":   open,
			"rate":           service.Occupancy(booked, open),
		},
	})
}
