package handler

import (
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/sportsbook/internal/config"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/payment"
	"github.com/iliyamo/sportsbook/internal/queue"
	"github.com/iliyamo/sportsbook/internal/repository"
)

func newPaymentHandler(t *testing.T) (*PaymentHandler, sqlmock.Sqlmock, *mockPub, *mockProvider) {
	db, sm := newMock(t)
	pub := &mockPub{}
	prov := &mockProvider{}
	h := &PaymentHandler{
		Cfg:        config.PaymentConfig{Currency: "thb", SourceType: "promptpay"},
		Facilities: repository.NewFacilityRepo(db),
		Bookings:   repository.NewBookingRepo(db),
		Payments:   repository.NewPaymentRepo(db),
		Provider:   prov,
		Pub:        pub,
		Log:        testLog,
		Now:        fixedNow,
	}
	return h, sm, pub, prov
}

func TestCheckoutCreatesCharge(t *testing.T) {
	h, sm, _, prov := newPaymentHandler(t)
	sm.ExpectQuery(regexp.QuoteMeta("WHERE b.id = ? AND b.user_id = ?")).
		WithArgs(uint64(41), uint64(9)).WillReturnRows(bookingDetailRows(sampleBooking(model.BookingPending)))
	prov.On("CreateCharge", mock.Anything, mock.MatchedBy(func(in payment.ChargeInput) bool {
		return in.BookingID == 41 && in.AmountCents == 100000 && in.Currency == "thb" &&
			in.SourceType == "promptpay" && in.ReturnURI == "https://app.example/return"
	})).Return(payment.Charge{ID: "chrg_1", Status: payment.StatusPending, AuthorizeURI: "https://pay.example/auth"}, nil).Once()
	sm.ExpectExec("INSERT INTO payments").
		WithArgs(uint64(41), uint64(9), "omise", "chrg_1", uint32(100000), "thb", model.PaymentPending, "https://pay.example/auth").
		WillReturnResult(sqlmock.NewResult(12, 1))
	sm.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE id = ?")).
		WithArgs(int64(12)).WillReturnRows(paymentRows(model.PaymentPending))

	rec := serve(t, h.Checkout, http.MethodPost, "/v1/bookings/41/checkout",
		`{"return_uri":"https://app.example/return"}`, 9, model.RolePlayer, "id", "41")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"payment_id":12`)
	assert.Contains(t, rec.Body.String(), `"charge_id":"chrg_1"`)
	assert.Contains(t, rec.Body.String(), `"authorize_uri":"https://pay.example/auth"`)
	require.NoError(t, sm.ExpectationsWereMet())
	prov.AssertExpectations(t)
}

func TestCheckoutRejects(t *testing.T) {
	t.Run("payments disabled", func(t *testing.T) {
		h, _, _, _ := newPaymentHandler(t)
		h.Provider = nil
		rec := serve(t, h.Checkout, http.MethodPost, "/v1/bookings/41/checkout",
			`{"return_uri":"https://app.example/return"}`, 9, model.RolePlayer, "id", "41")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("hold lapsed", func(t *testing.T) {
		h, sm, _, prov := newPaymentHandler(t)
		h.Now = func() time.Time { return testNow.Add(20 * time.Minute) }
		sm.ExpectQuery("WHERE b.id").WillReturnRows(bookingDetailRows(sampleBooking(model.BookingPending)))

		rec := serve(t, h.Checkout, http.MethodPost, "/v1/bookings/41/checkout",
			`{"return_uri":"https://app.example/return"}`, 9, model.RolePlayer, "id", "41")
		assert.Equal(t, http.StatusConflict, rec.Code)
		prov.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	})

	t.Run("missing return uri", func(t *testing.T) {
		h, _, _, _ := newPaymentHandler(t)
		rec := serve(t, h.Checkout, http.MethodPost, "/v1/bookings/41/checkout", `{}`, 9, model.RolePlayer, "id", "41")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

// expectFinalizeStart queues the lock sequence of finalize: facility first,
// then booking, then payment, matching booking creation.
func expectFinalizeStart(sm sqlmock.Sqlmock, paymentStatus string, b model.Booking) {
	sm.ExpectBegin()
	sm.ExpectQuery(regexp.QuoteMeta("SELECT p.booking_id, b.facility_id FROM payments p")).
		WithArgs(uint64(12)).WillReturnRows(sqlmock.NewRows([]string{"booking_id", "facility_id"}).AddRow(41, 2))
	sm.ExpectQuery(regexp.QuoteMeta("FROM facilities f WHERE f.id = ? FOR UPDATE")).
		WithArgs(uint64(2)).WillReturnRows(facilityRows())
	sm.ExpectQuery(regexp.QuoteMeta("FROM bookings b WHERE b.id = ? FOR UPDATE")).
		WithArgs(uint64(41)).WillReturnRows(bookingRows(b))
	sm.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(12)).WillReturnRows(paymentRows(paymentStatus))
}

func TestFinalizeLocksFacilityBeforeRows(t *testing.T) {
	h, sm, pub, prov := newPaymentHandler(t)
	sm.ExpectQuery("FROM payments WHERE id").WillReturnRows(paymentRows(model.PaymentPending))
	prov.On("RetrieveCharge", mock.Anything, "chrg_1").
		Return(payment.Charge{ID: "chrg_1", Status: payment.StatusSuccessful}, nil).Once()
	sm.ExpectBegin()
	sm.ExpectQuery("SELECT p.booking_id, b.facility_id").
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "facility_id"}).AddRow(41, 2))
	sm.ExpectQuery(regexp.QuoteMeta("FROM facilities f WHERE f.id = ? FOR UPDATE")).
		WithArgs(uint64(2)).WillReturnError(errors.New("lock wait timeout exceeded"))
	sm.ExpectRollback()

	rec := serve(t, h.Verify, http.MethodPost, "/v1/payments/12/verify", "", 9, model.RolePlayer, "id", "12")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// no booking or payment row was locked before the facility
	require.NoError(t, sm.ExpectationsWereMet())
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestVerifyConfirmsBooking(t *testing.T) {
	h, sm, pub, prov := newPaymentHandler(t)
	sm.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE id = ? AND user_id = ?")).
		WithArgs(uint64(12), uint64(9)).WillReturnRows(paymentRows(model.PaymentPending))
	prov.On("RetrieveCharge", mock.Anything, "chrg_1").
		Return(payment.Charge{ID: "chrg_1", Status: payment.StatusSuccessful, AmountCents: 100000}, nil).Once()
	expectFinalizeStart(sm, model.PaymentPending, sampleBooking(model.BookingPending))
	sm.ExpectExec("UPDATE payments SET status").
		WithArgs(model.PaymentPaid, sqlmock.AnyArg(), uint64(12)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectExec("UPDATE bookings SET status").
		WithArgs(model.BookingConfirmed, uint64(41), model.BookingPending, model.BookingExpired).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectCommit()
	pub.On("Publish", mock.Anything, keyIs(queue.KeyPaymentPaid)).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev queue.Event) bool {
		return ev.Key == queue.KeyBookingConfirmed && len(ev.Audience()) == 2
	})).Return(nil).Once()

	rec := serve(t, h.Verify, http.MethodPost, "/v1/payments/12/verify", "", 9, model.RolePlayer, "id", "12")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"PAID"`)
	assert.Contains(t, rec.Body.String(), `"status":"CONFIRMED"`)
	require.NoError(t, sm.ExpectationsWereMet())
	pub.AssertExpectations(t)
}

func TestVerifyRefundsWhenSlotWasRebooked(t *testing.T) {
	h, sm, pub, prov := newPaymentHandler(t)
	h.Now = func() time.Time { return testNow.Add(30 * time.Minute) }
	expired := sampleBooking(model.BookingExpired)

	sm.ExpectQuery("FROM payments WHERE id").WillReturnRows(paymentRows(model.PaymentPending))
	prov.On("RetrieveCharge", mock.Anything, "chrg_1").
		Return(payment.Charge{ID: "chrg_1", Status: payment.StatusSuccessful, AmountCents: 100000}, nil).Once()
	expectFinalizeStart(sm, model.PaymentPending, expired)
	sm.ExpectQuery("SELECT b.id FROM bookings b").
		WithArgs(uint64(2), uint64(41), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
	prov.On("Refund", mock.Anything, "chrg_1", int64(100000)).Return(nil).Once()
	sm.ExpectExec("UPDATE payments SET status").
		WithArgs(model.PaymentRefunded, sqlmock.AnyArg(), uint64(12)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectCommit()
	pub.On("Publish", mock.Anything, keyIs(queue.KeyPaymentRefunded)).Return(nil).Once()

	rec := serve(t, h.Verify, http.MethodPost, "/v1/payments/12/verify", "", 9, model.RolePlayer, "id", "12")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"REFUNDED"`)
	require.NoError(t, sm.ExpectationsWereMet())
	prov.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestVerifyRevivesLapsedHoldWhenFree(t *testing.T) {
	h, sm, pub, prov := newPaymentHandler(t)
	h.Now = func() time.Time { return testNow.Add(30 * time.Minute) }

	sm.ExpectQuery("FROM payments WHERE id").WillReturnRows(paymentRows(model.PaymentPending))
	prov.On("RetrieveCharge", mock.Anything, "chrg_1").
		Return(payment.Charge{ID: "chrg_1", Status: payment.StatusSuccessful}, nil).Once()
	expectFinalizeStart(sm, model.PaymentPending, sampleBooking(model.BookingExpired))
	sm.ExpectQuery("SELECT b.id FROM bookings b").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	sm.ExpectExec("UPDATE payments SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectExec("UPDATE bookings SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectCommit()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Twice()

	rec := serve(t, h.Verify, http.MethodPost, "/v1/payments/12/verify", "", 9, model.RolePlayer, "id", "12")

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"CONFIRMED"`)
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestVerifyRecordsFailure(t *testing.T) {
	h, sm, pub, prov := newPaymentHandler(t)
	sm.ExpectQuery("FROM payments WHERE id").WillReturnRows(paymentRows(model.PaymentPending))
	prov.On("RetrieveCharge", mock.Anything, "chrg_1").
		Return(payment.Charge{ID: "chrg_1", Status: payment.StatusFailed, FailureCode: "insufficient_fund"}, nil).Once()
	expectFinalizeStart(sm, model.PaymentPending, sampleBooking(model.BookingPending))
	sm.ExpectExec("UPDATE payments SET status").
		WithArgs(model.PaymentFailed, "insufficient_fund", uint64(12)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectCommit()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev queue.Event) bool {
		return ev.Key == queue.KeyPaymentFailed && ev.Attrs[queue.AttrFailureCode] == "insufficient_fund"
	})).Return(nil).Once()

	rec := serve(t, h.Verify, http.MethodPost, "/v1/payments/12/verify", "", 9, model.RolePlayer, "id", "12")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failure_code":"insufficient_fund"`)
	assert.Contains(t, rec.Body.String(), `"status":"PENDING"`)
	require.NoError(t, sm.ExpectationsWereMet())
	pub.AssertExpectations(t)
}

func TestVerifyAlreadyFinal(t *testing.T) {
	h, sm, pub, prov := newPaymentHandler(t)
	sm.ExpectQuery("FROM payments WHERE id").WillReturnRows(paymentRows(model.PaymentPaid))
	prov.On("RetrieveCharge", mock.Anything, "chrg_1").
		Return(payment.Charge{ID: "chrg_1", Status: payment.StatusSuccessful}, nil).Once()
	expectFinalizeStart(sm, model.PaymentPaid, sampleBooking(model.BookingConfirmed))
	sm.ExpectCommit()

	rec := serve(t, h.Verify, http.MethodPost, "/v1/payments/12/verify", "", 9, model.RolePlayer, "id", "12")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, sm.ExpectationsWereMet())
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestWebhook(t *testing.T) {
	charge := &payment.Charge{ID: "chrg_1", Status: payment.StatusSuccessful}

	t.Run("redelivered event changes nothing", func(t *testing.T) {
		h, sm, pub, prov := newPaymentHandler(t)
		prov.On("RetrieveEvent", mock.Anything, "evnt_1").
			Return(payment.Event{ID: "evnt_1", Key: payment.EventChargeComplete, Charge: charge}, nil).Once()
		sm.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE provider = ? AND provider_ref = ?")).
			WithArgs("omise", "chrg_1").WillReturnRows(paymentRows(model.PaymentPaid))
		sm.ExpectBegin()
		sm.ExpectExec("INSERT IGNORE INTO processed_events").
			WithArgs("evnt_1", payment.EventChargeComplete).WillReturnResult(sqlmock.NewResult(0, 0))
		sm.ExpectQuery("SELECT p.booking_id").WillReturnRows(sqlmock.NewRows([]string{"booking_id", "facility_id"}).AddRow(41, 2))
		sm.ExpectQuery("FROM bookings b").WillReturnRows(bookingRows(sampleBooking(model.BookingConfirmed)))
		sm.ExpectQuery("FROM payments WHERE id").WillReturnRows(paymentRows(model.PaymentPaid))
		sm.ExpectCommit()

		rec := serve(t, h.Webhook, http.MethodPost, "/v1/payments/webhook", `{"id":"evnt_1","key":"charge.complete"}`, 0, "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())
		require.NoError(t, sm.ExpectationsWereMet())
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("other events are ignored", func(t *testing.T) {
		h, sm, _, prov := newPaymentHandler(t)
		prov.On("RetrieveEvent", mock.Anything, "evnt_2").
			Return(payment.Event{ID: "evnt_2", Key: "charge.create", Charge: charge}, nil).Once()

		rec := serve(t, h.Webhook, http.MethodPost, "/v1/payments/webhook", `{"id":"evnt_2","key":"charge.complete"}`, 0, "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ignored":true}`, rec.Body.String())
		require.NoError(t, sm.ExpectationsWereMet())
	})

	t.Run("unknown charge", func(t *testing.T) {
		h, sm, _, prov := newPaymentHandler(t)
		prov.On("RetrieveEvent", mock.Anything, "evnt_3").
			Return(payment.Event{ID: "evnt_3", Key: payment.EventChargeComplete, Charge: charge}, nil).Once()
		sm.ExpectQuery("provider_ref").WillReturnRows(sqlmock.NewRows(paymentCols))

		rec := serve(t, h.Webhook, http.MethodPost, "/v1/payments/webhook", `{"id":"evnt_3"}`, 0, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ignored":true}`, rec.Body.String())
	})

	t.Run("provider down", func(t *testing.T) {
		h, _, _, prov := newPaymentHandler(t)
		prov.On("RetrieveEvent", mock.Anything, "evnt_4").Return(payment.Event{}, payment.ErrProvider).Once()

		rec := serve(t, h.Webhook, http.MethodPost, "/v1/payments/webhook", `{"id":"evnt_4"}`, 0, "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		h, _, _, _ := newPaymentHandler(t)
		rec := serve(t, h.Webhook, http.MethodPost, "/v1/payments/webhook", `{"key":"charge.complete"}`, 0, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
