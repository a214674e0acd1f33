package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/middleware"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/service"
)

// FacilityHandler serves the public facility catalogue and the manager
// endpoints that edit it.
type FacilityHandler struct {
	Facilities *repository.FacilityRepo
	Bookings   *repository.BookingRepo
	Cache      *middleware.CacheInvalidator
	Log        *slog.Logger
	Now        func() time.Time
}

func NewFacilityHandler(f *repository.FacilityRepo, b *repository.BookingRepo, cache *middleware.CacheInvalidator, log *slog.Logger) *FacilityHandler {
	return &FacilityHandler{Facilities: f, Bookings: b, Cache: cache, Log: log, Now: time.Now}
}

func (h *FacilityHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Search handles GET /v1/facilities?sport=&city=&q=&max_price=&page=&page_size=.
func (h *FacilityHandler) Search(c echo.Context) error {
	page, size := pageParams(c)
	q := repository.FacilitySearchQuery{
		Sport:    strings.TrimSpace(c.QueryParam("sport")),
		City:     strings.TrimSpace(c.QueryParam("city")),
		Q:        strings.TrimSpace(c.QueryParam("q")),
		Page:     page,
		PageSize: size,
	}
	if v := c.QueryParam("max_price"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid max_price"})
		}
		q.MaxPrice = uint32(n)
	}
	items, total, err := h.Facilities.Search(c.Request().Context(), q)
	if err != nil {
		return respondErr(c, h.Log, "handler.Facility.Search", err)
	}
	return c.JSON(http.StatusOK, paged(items, total, page, size))
}

// activeFacility loads a facility visible to the public.
func (h *FacilityHandler) activeFacility(c echo.Context) (model.Facility, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return model.Facility{}, reject(http.StatusBadRequest, "invalid facility id")
	}
	f, err := h.Facilities.GetByID(c.Request().Context(), id)
	if err != nil {
		return model.Facility{}, err
	}
	if !f.IsActive {
		return model.Facility{}, repository.ErrNotFound
	}
	return f, nil
}

// Get handles GET /v1/facilities/:id.
func (h *FacilityHandler) Get(c echo.Context) error {
	f, err := h.activeFacility(c)
	if err != nil {
		return respondErr(c, h.Log, "handler.Facility.Get", err)
	}
	return c.JSON(http.StatusOK, f)
}

// localDay resolves the ?date= parameter in the facility's timezone,
// defaulting to today there.
func (h *FacilityHandler) localDay(c echo.Context, f model.Facility) (time.Time, error) {
	loc := f.Location()
	if s := c.QueryParam("date"); s != "" {
		d, err := service.ParseLocalDate(s, loc)
		if err != nil {
			return time.Time{}, reject(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		return d, nil
	}
	y, m, d := h.now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
}

// Availability handles GET /v1/facilities/:id/availability?date=YYYY-MM-DD
// and returns every slot of that local day.
func (h *FacilityHandler) Availability(c echo.Context) error {
	const op = "handler.Facility.Availability"
	f, err := h.activeFacility(c)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	day, err := h.localDay(c, f)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	openAt, closeAt := service.DayWindow(f, day)
	ranges, err := h.Bookings.ActiveInRange(c.Request().Context(), f.ID, openAt, closeAt)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	busy := make([]service.Interval, len(ranges))
	for i, r := range ranges {
		busy[i] = service.Interval{Start: r[0], End: r[1]}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"facility_id": f.ID,
		"date":        day.Format("2006-01-02"),
		"timezone":    f.Timezone,
		"currency":    f.Currency,
		"slots":       service.BuildDaySlots(f, day, busy, h.now()),
	})
}
