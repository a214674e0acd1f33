package handler

import (
	"database/sql/driver"
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
)

func newDashboardHandler(t *testing.T) (*DashboardHandler, sqlmock.Sqlmock) {
	db, sm := newMock(t)
	return &DashboardHandler{Dashboard: repository.NewDashboardRepo(db), Log: testLog, Now: fixedNow}, sm
}

// twelve months ending with the test month
var revenueFrom = time.Date(2029, 6, 1, 0, 0, 0, 0, time.UTC)

func expectRevenue(sm sqlmock.Sqlmock, scope ...driver.Value) {
	sm.ExpectQuery(regexp.QuoteMeta("p.status = 'REFUNDED'")).
		WithArgs(scope...).
		WillReturnRows(sqlmock.NewRows([]string{"paid", "refunded"}).AddRow(150000, 20000))
	sm.ExpectQuery(regexp.QuoteMeta("AS month")).
		WithArgs(append([]driver.Value{revenueFrom}, scope...)...).
		WillReturnRows(sqlmock.NewRows([]string{"month", "sum"}).AddRow("2030-04", 150000))
}

func TestAdminDashboard(t *testing.T) {
	h, sm := newDashboardHandler(t)
	expectRevenue(sm)
	sm.ExpectQuery(regexp.QuoteMeta("SELECT role, COUNT(*) FROM users GROUP BY role")).
		WillReturnRows(sqlmock.NewRows([]string{"role", "n"}).
			AddRow(model.RolePlayer, 40).AddRow(model.RoleManager, 3).AddRow(model.RoleAdmin, 1))
	sm.ExpectQuery(regexp.QuoteMeta("FROM bookings b WHERE 1=1 GROUP BY b.status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "n"}).
			AddRow(model.BookingConfirmed, 7).AddRow(model.BookingCancelled, 2))
	sm.ExpectQuery(regexp.QuoteMeta("FROM facilities f")).
		WithArgs(topFacilities).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "paid", "bookings"}).AddRow(2, "Court One", 150000, 9))

	rec := serve(t, h.Admin, http.MethodGet, "/v1/admin/dashboard", "", 1, model.RoleAdmin)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Revenue     repository.Revenue           `json:"revenue"`
		UsersByRole map[string]int64             `json:"users_by_role"`
		Bookings    map[string]int64             `json:"bookings"`
		Top         []repository.FacilityRevenue `json:"top_facilities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(150000), resp.Revenue.PaidCents)
	assert.Equal(t, int64(20000), resp.Revenue.RefundedCents)
	require.Len(t, resp.Revenue.ByMonth, 12)
	assert.Equal(t, repository.MonthRevenue{Month: "2030-04", PaidCents: 150000}, resp.Revenue.ByMonth[10])
	assert.Equal(t, repository.MonthRevenue{Month: "2030-05"}, resp.Revenue.ByMonth[11])
	assert.Equal(t, int64(40), resp.UsersByRole[model.RolePlayer])
	assert.Equal(t, int64(7), resp.Bookings[model.BookingConfirmed])
	require.Len(t, resp.Top, 1)
	assert.Equal(t, uint64(2), resp.Top[0].FacilityID)
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestManagerDashboardScopedToOwnFacilities(t *testing.T) {
	h, sm := newDashboardHandler(t)
	from := testNow.AddDate(0, 0, -occupancyDays)
	expectRevenue(sm, uint64(5))
	sm.ExpectQuery(regexp.QuoteMeta("GROUP BY b.status")).
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "n"}).AddRow(model.BookingConfirmed, 7))
	sm.ExpectQuery(regexp.QuoteMeta("WHERE f.manager_id = ?")).
		WithArgs(uint64(5), topFacilities).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "paid", "bookings"}).AddRow(2, "Court One", 150000, 9))
	sm.ExpectQuery(regexp.QuoteMeta("TIMESTAMPDIFF(MINUTE")).
		WithArgs(from, testNow, uint64(5), testNow, from).
		WillReturnRows(sqlmock.NewRows([]string{"booked"}).AddRow(1260))
	sm.ExpectQuery(regexp.QuoteMeta("SUM(close_minute - open_minute)")).
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"per_day"}).AddRow(840))

	rec := serve(t, h.Manager, http.MethodGet, "/v1/manager/dashboard", "", 5, model.RoleManager)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Occupancy struct {
			Booked int64   `json:"booked_minutes"`
			Open   int64   `json:"open_minutes"`
			Rate   float64 `json:"rate"`
		} `json:"occupancy"`
		UsersByRole map[string]int64 `json:"users_by_role"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1260), resp.Occupancy.Booked)
	assert.Equal(t, int64(840*occupancyDays), resp.Occupancy.Open)
	assert.InDelta(t, 0.05, resp.Occupancy.Rate, 1e-9)
	assert.Nil(t, resp.UsersByRole)
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestManagerDashboardQueryError(t *testing.T) {
	h, sm := newDashboardHandler(t)
	sm.ExpectQuery(regexp.QuoteMeta("p.status = 'REFUNDED'")).WillReturnError(assert.AnError)

	rec := serve(t, h.Manager, http.MethodGet, "/v1/manager/dashboard", "", 5, model.RoleManager)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NoError(t, sm.ExpectationsWereMet())
}
