package handler

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/payment"
	"github.com/iliyamo/sportsbook/internal/queue"
)

// testNow is a Wednesday, 07:00 in Asia/Bangkok.
var testNow = time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, sm, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, sm
}

// serve runs h against a request carrying the given identity.  params are
// name/value pairs for path parameters.
func serve(t *testing.T, h echo.HandlerFunc, method, target, body string, uid uint64, role string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Validator = NewValidator()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if uid != 0 {
		c.Set("user_id", uid)
		c.Set("role", role)
	}
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	require.NoError(t, h(c))
	return rec
}

var facilityCols = []string{"id", "manager_id", "name", "sport", "city", "address", "description", "timezone",
	"open_minute", "close_minute", "slot_minutes", "price_per_hour_cents", "weekend_price_per_hour_cents",
	"currency", "is_active", "created_at", "updated_at"}

// facilityRows is facility 2, managed by user 5: tennis in Bangkok, open
// 08:00 to 22:00 in hourly slots at 500.00 THB (600.00 at weekends).
func facilityRows() *sqlmock.Rows {
	return sqlmock.NewRows(facilityCols).AddRow(2, 5, "Court One", "tennis", "Bangkok", "1 Main Rd", nil, "Asia/Bangkok",
		480, 1320, 60, 50000, 60000, "thb", true, testNow, testNow)
}

var bookingCols = []string{"id", "user_id", "facility_id", "starts_at", "ends_at", "status",
	"total_amount_cents", "currency", "hold_token", "expires_at", "created_at", "updated_at"}

func bookingValues(b model.Booking) []driver.Value {
	var exp driver.Value
	if b.ExpiresAt != nil {
		exp = *b.ExpiresAt
	}
	return []driver.Value{b.ID, b.UserID, b.FacilityID, b.StartsAt, b.EndsAt, b.Status,
		b.TotalAmountCents, b.Currency, b.HoldToken, exp, testNow, testNow}
}

func bookingRows(b model.Booking) *sqlmock.Rows {
	return sqlmock.NewRows(bookingCols).AddRow(bookingValues(b)...)
}

func bookingDetailRows(b model.Booking) *sqlmock.Rows {
	cols := append(append([]string{}, bookingCols...), "facility_name", "sport", "city", "payment_status")
	return sqlmock.NewRows(cols).AddRow(append(bookingValues(b), "Court One", "tennis", "Bangkok", "")...)
}

// sampleBooking is user 9's two hour booking of facility 2 from 10:00
// local time on the test day.
func sampleBooking(status string) model.Booking {
	b := model.Booking{
		ID:               41,
		UserID:           9,
		FacilityID:       2,
		StartsAt:         time.Date(2030, 5, 1, 3, 0, 0, 0, time.UTC),
		EndsAt:           time.Date(2030, 5, 1, 5, 0, 0, 0, time.UTC),
		Status:           status,
		TotalAmountCents: 100000,
		Currency:         "thb",
		HoldToken:        "tok",
	}
	if status == model.BookingPending {
		exp := testNow.Add(10 * time.Minute)
		b.ExpiresAt = &exp
	}
	return b
}

var paymentCols = []string{"id", "booking_id", "user_id", "provider", "provider_ref", "amount_cents", "currency",
	"status", "authorize_uri", "failure_code", "created_at", "updated_at"}

func paymentRows(status string) *sqlmock.Rows {
	return sqlmock.NewRows(paymentCols).AddRow(12, 41, 9, "omise", "chrg_1", 100000, "thb",
		status, "https://pay.example/auth", nil, testNow, testNow)
}

type mockPub struct{ mock.Mock }

func (m *mockPub) Publish(ctx context.Context, ev queue.Event) error {
	return m.Called(ctx, ev).Error(0)
}

func keyIs(key string) any {
	return mock.MatchedBy(func(ev queue.Event) bool { return ev.Key == key })
}

type mockProvider struct{ mock.Mock }

func (m *mockProvider) Name() string { return "omise" }

func (m *mockProvider) CreateCharge(ctx context.Context, in payment.ChargeInput) (payment.Charge, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(payment.Charge), args.Error(1)
}

func (m *mockProvider) RetrieveCharge(ctx context.Context, chargeID string) (payment.Charge, error) {
	args := m.Called(ctx, chargeID)
	return args.Get(0).(payment.Charge), args.Error(1)
}

func (m *mockProvider) RetrieveEvent(ctx context.Context, eventID string) (payment.Event, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(payment.Event), args.Error(1)
}

func (m *mockProvider) Refund(ctx context.Context, chargeID string, amountCents int64) error {
	return m.Called(ctx, chargeID, amountCents).Error(0)
}

var testLog = logger.Discard()
