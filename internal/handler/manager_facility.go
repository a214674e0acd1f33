package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/service"
)

type facilityCreateReq struct {
	Name                     string  `json:"name" validate:"required,max=120"`
	Sport                    string  `json:"sport" validate:"required,max=40"`
	City                     string  `json:"city" validate:"required,max=80"`
	Address                  string  `json:"address" validate:"max=255"`
	Description              *string `json:"description" validate:"omitempty,max=2000"`
	Timezone                 string  `json:"timezone" validate:"required"`
	OpenMinute               int     `json:"open_minute" validate:"gte=0,lte=1440"`
	CloseMinute              int     `json:"close_minute" validate:"gte=0,lte=1440"`
	SlotMinutes              int     `json:"slot_minutes" validate:"required"`
	PricePerHourCents        uint32  `json:"price_per_hour_cents" validate:"required"`
	WeekendPricePerHourCents *uint32 `json:"weekend_price_per_hour_cents"`
	Currency                 string  `json:"currency" validate:"omitempty,len=3"`
}

// facilityPatchReq is used by PUT and PATCH; absent fields keep their value.
type facilityPatchReq struct {
	Name                     *string `json:"name" validate:"omitempty,min=1,max=120"`
	Sport                    *string `json:"sport" validate:"omitempty,min=1,max=40"`
	City                     *string `json:"city" validate:"omitempty,min=1,max=80"`
	Address                  *string `json:"address" validate:"omitempty,max=255"`
	Description              *string `json:"description" validate:"omitempty,max=2000"`
	Timezone                 *string `json:"timezone"`
	OpenMinute               *int    `json:"open_minute" validate:"omitempty,gte=0,lte=1440"`
	CloseMinute              *int    `json:"close_minute" validate:"omitempty,gte=0,lte=1440"`
	SlotMinutes              *int    `json:"slot_minutes"`
	PricePerHourCents        *uint32 `json:"price_per_hour_cents"`
	WeekendPricePerHourCents *uint32 `json:"weekend_price_per_hour_cents"`
	Currency                 *string `json:"currency" validate:"omitempty,len=3"`
	IsActive                 *bool   `json:"is_active"`
}

func (p facilityPatchReq) apply(f *model.Facility) {
	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setStr(&f.Name, p.Name)
	setStr(&f.City, p.City)
	setStr(&f.Address, p.Address)
	setStr(&f.Timezone, p.Timezone)
	if p.Sport != nil {
		f.Sport = strings.ToLower(strings.TrimSpace(*p.Sport))
	}
	if p.Currency != nil {
		f.Currency = strings.ToLower(*p.Currency)
	}
	if p.Description != nil {
		f.Description = p.Description
	}
	setInt(&f.OpenMinute, p.OpenMinute)
	setInt(&f.CloseMinute, p.CloseMinute)
	setInt(&f.SlotMinutes, p.SlotMinutes)
	if p.PricePerHourCents != nil {
		f.PricePerHourCents = *p.PricePerHourCents
	}
	if p.WeekendPricePerHourCents != nil {
		f.WeekendPricePerHourCents = p.WeekendPricePerHourCents
	}
	if p.IsActive != nil {
		f.IsActive = *p.IsActive
	}
}

func (h *FacilityHandler) invalidate(ctx context.Context) {
	if err := h.Cache.Invalidate(context.WithoutCancel(ctx), "facilities"); err != nil {
		h.Log.Warn("facility cache invalidation failed", logger.Err(err))
	}
}

// Create handles POST /v1/manager/facilities.  The caller becomes the
// facility's manager.
func (h *FacilityHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req facilityCreateReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "thb"
	}
	f := model.Facility{
		ManagerID:                uid,
		Name:                     strings.TrimSpace(req.Name),
		Sport:                    strings.ToLower(strings.TrimSpace(req.Sport)),
		City:                     strings.TrimSpace(req.City),
		Address:                  strings.TrimSpace(req.Address),
		Description:              req.Description,
		Timezone:                 req.Timezone,
		OpenMinute:               req.OpenMinute,
		CloseMinute:              req.CloseMinute,
		SlotMinutes:              req.SlotMinutes,
		PricePerHourCents:        req.PricePerHourCents,
		WeekendPricePerHourCents: req.WeekendPricePerHourCents,
		Currency:                 currency,
		IsActive:                 true,
	}
	if err := service.ValidateFacility(f); err != nil {
		return respondErr(c, h.Log, "handler.Facility.Create", err)
	}
	ctx := c.Request().Context()
	if err := h.Facilities.Create(ctx, &f); err != nil {
		return respondErr(c, h.Log, "handler.Facility.Create", err)
	}
	h.invalidate(ctx)
	return c.JSON(http.StatusCreated, f)
}

// Update handles PUT and PATCH /v1/manager/facilities/:id.
func (h *FacilityHandler) Update(c echo.Context) error {
	const op = "handler.Facility.Update"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid facility id"})
	}
	var req facilityPatchReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx := c.Request().Context()
	f, err := h.Facilities.GetForManager(ctx, id, uid, isAdmin(c))
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	req.apply(&f)
	if err := service.ValidateFacility(f); err != nil {
		return respondErr(c, h.Log, op, err)
	}
	if err := h.Facilities.Update(ctx, &f); err != nil {
		return respondErr(c, h.Log, op, err)
	}
	h.invalidate(ctx)
	return c.JSON(http.StatusOK, f)
}

// Delete handles DELETE /v1/manager/facilities/:id.  The facility is
// deactivated; 409 while it has upcoming active bookings.
func (h *FacilityHandler) Delete(c echo.Context) error {
	const op = "handler.Facility.Delete"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid facility id"})
	}
	ctx := c.Request().Context()
	if _, err := h.Facilities.GetForManager(ctx, id, uid, isAdmin(c)); err != nil {
		return respondErr(c, h.Log, op, err)
	}
	if err := h.Facilities.Deactivate(ctx, id); err != nil {
		return respondErr(c, h.Log, op, err)
	}
	h.invalidate(ctx)
	return c.NoContent(http.StatusNoContent)
}

// ListMine handles GET /v1/manager/facilities.
func (h *FacilityHandler) ListMine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Facilities.ListByManager(c.Request().Context(), uid)
	if err != nil {
		return respondErr(c, h.Log, "handler.Facility.ListMine", err)
	}
	return c.JSON(http.StatusOK, items)
}

// FacilityBookings handles GET /v1/manager/facilities/:id/bookings?date=
// and lists the bookings of that local day.
func (h *FacilityHandler) FacilityBookings(c echo.Context) error {
	const op = "handler.Facility.FacilityBookings"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid facility id"})
	}
	ctx := c.Request().Context()
	f, err := h.Facilities.GetForManager(ctx, id, uid, isAdmin(c))
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	day, err := h.localDay(c, f)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	items, err := h.Bookings.ListByFacility(ctx, f.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"facility_id": f.ID, "date": day.Format("2006-01-02"), "bookings": items})
}
