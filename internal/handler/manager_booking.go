package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/repository"
)

// ManagerCancel handles POST /v1/manager/bookings/:id/cancel.  A manager
// may cancel any active booking of their facilities that has not ended;
// admins may cancel any booking.  Paid bookings are refunded.
func (h *BookingHandler) ManagerCancel(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	admin := isAdmin(c)
	return h.cancel(c, id, uid, func(b model.Booking, f model.Facility) error {
		if !admin && f.ManagerID != uid {
			return repository.ErrForbidden
		}
		if !h.now().Before(b.EndsAt) {
			return reject(http.StatusConflict, "booking has already ended")
		}
		return nil
	})
}
