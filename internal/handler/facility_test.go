package handler

import (
	"encoding/json"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/service"
)

func newFacilityHandler(t *testing.T) (*FacilityHandler, sqlmock.Sqlmock) {
	db, sm := newMock(t)
	h := &FacilityHandler{
		Facilities: repository.NewFacilityRepo(db),
		Bookings:   repository.NewBookingRepo(db),
		Log:        testLog,
		Now:        fixedNow,
	}
	return h, sm
}

func TestFacilityAvailability(t *testing.T) {
	h, sm := newFacilityHandler(t)
	// 08:00 and 22:00 in Bangkok
	openAt := time.Date(2030, 5, 1, 1, 0, 0, 0, time.UTC)
	closeAt := time.Date(2030, 5, 1, 15, 0, 0, 0, time.UTC)
	b := sampleBooking(model.BookingConfirmed)
	sm.ExpectQuery(regexp.QuoteMeta("FROM facilities f WHERE f.id = ?")).
		WithArgs(uint64(2)).WillReturnRows(facilityRows())
	sm.ExpectQuery(regexp.QuoteMeta("SELECT b.starts_at, b.ends_at FROM bookings b")).
		WithArgs(uint64(2), closeAt, openAt).
		WillReturnRows(sqlmock.NewRows([]string{"starts_at", "ends_at"}).AddRow(b.StartsAt, b.EndsAt))

	rec := serve(t, h.Availability, http.MethodGet, "/v1/facilities/2/availability?date=2030-05-01", "", 0, "", "id", "2")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Date     string         `json:"date"`
		Timezone string         `json:"timezone"`
		Slots    []service.Slot `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2030-05-01", resp.Date)
	assert.Equal(t, "Asia/Bangkok", resp.Timezone)
	require.Len(t, resp.Slots, 14)
	assert.True(t, resp.Slots[0].StartsAt.Equal(openAt))
	assert.True(t, resp.Slots[13].EndsAt.Equal(closeAt))
	for i, s := range resp.Slots {
		assert.Equal(t, uint32(50000), s.PriceCents, "slot %d", i)
		// the 10:00 and 11:00 slots are taken
		assert.Equal(t, i != 2 && i != 3, s.Available, "slot %d", i)
	}
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestFacilityAvailabilityBadDate(t *testing.T) {
	h, sm := newFacilityHandler(t)
	sm.ExpectQuery(regexp.QuoteMeta("FROM facilities f WHERE f.id = ?")).
		WithArgs(uint64(2)).WillReturnRows(facilityRows())

	rec := serve(t, h.Availability, http.MethodGet, "/v1/facilities/2/availability?date=01-05-2030", "", 0, "", "id", "2")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestFacilityAvailabilityInactive(t *testing.T) {
	h, sm := newFacilityHandler(t)
	sm.ExpectQuery(regexp.QuoteMeta("FROM facilities f WHERE f.id = ?")).
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows(facilityCols).AddRow(2, 5, "Court One", "tennis", "Bangkok", "1 Main Rd", nil,
			"Asia/Bangkok", 480, 1320, 60, 50000, 60000, "thb", false, testNow, testNow))

	rec := serve(t, h.Availability, http.MethodGet, "/v1/facilities/2/availability", "", 0, "", "id", "2")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, sm.ExpectationsWereMet())
}
