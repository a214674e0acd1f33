package handler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/config"
	"github.com/iliyamo/sportsbook/internal/middleware"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/payment"
	"github.com/iliyamo/sportsbook/internal/queue"
	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/service"
)

// PaymentHandler starts checkouts and applies charge results.  Verify and
// Webhook share finalize, so whichever sees the final charge first wins
// and the other is a no-op.
type PaymentHandler struct {
	Cfg        config.PaymentConfig
	Facilities *repository.FacilityRepo
	Bookings   *repository.BookingRepo
	Payments   *repository.PaymentRepo
	Provider   payment.Provider // nil when payments are disabled
	Pub        service.EventPublisher
	Metrics    *middleware.Metrics
	Log        *slog.Logger
	Now        func() time.Time
}

func (h *PaymentHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type checkoutReq struct {
	SourceType string `json:"source_type" validate:"omitempty,max=32"`
	ReturnURI  string `json:"return_uri" validate:"required,url"`
}

// Checkout handles POST /v1/bookings/:id/checkout.  It creates a charge for
// a PENDING booking whose hold has not lapsed and records the attempt.
func (h *PaymentHandler) Checkout(c echo.Context) error {
	const op = "handler.Payment.Checkout"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var req checkoutReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if h.Provider == nil {
		return respondErr(c, h.Log, op, payment.ErrDisabled)
	}
	ctx := c.Request().Context()
	b, err := h.Bookings.GetForUser(ctx, id, uid)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	if b.Status != model.BookingPending || !b.IsActive(h.now()) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "booking is not awaiting payment"})
	}
	source := req.SourceType
	if source == "" {
		source = h.Cfg.SourceType
	}
	ch, err := h.Provider.CreateCharge(ctx, payment.ChargeInput{
		BookingID:   b.ID,
		AmountCents: int64(b.TotalAmountCents),
		Currency:    b.Currency,
		SourceType:  source,
		ReturnURI:   req.ReturnURI,
	})
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	p := model.Payment{
		BookingID:    b.ID,
		UserID:       uid,
		Provider:     h.Provider.Name(),
		ProviderRef:  ch.ID,
		AmountCents:  b.TotalAmountCents,
		Currency:     b.Currency,
		Status:       model.PaymentPending,
		AuthorizeURI: ch.AuthorizeURI,
	}
	if err := h.Payments.Create(ctx, &p); err != nil {
		return respondErr(c, h.Log, op, err)
	}
	if ch.Final() {
		res, err := h.finalize(ctx, p.ID, ch, "")
		if err != nil {
			return respondErr(c, h.Log, op, err)
		}
		return h.result(c, http.StatusCreated, res)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"payment_id":    p.ID,
		"charge_id":     ch.ID,
		"authorize_uri": ch.AuthorizeURI,
		"payment":       p,
	})
}

// Verify handles POST /v1/payments/:id/verify.  It re-fetches the charge
// and applies it; clients call it after returning from the authorize page.
func (h *PaymentHandler) Verify(c echo.Context) error {
	const op = "handler.Payment.Verify"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payment id"})
	}
	if h.Provider == nil {
		return respondErr(c, h.Log, op, payment.ErrDisabled)
	}
	ctx := c.Request().Context()
	p, err := h.Payments.GetForUser(ctx, id, uid)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	ch, err := h.Provider.RetrieveCharge(ctx, p.ProviderRef)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	res, err := h.finalize(ctx, p.ID, ch, "")
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	return h.result(c, http.StatusOK, res)
}

type webhookReq struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Webhook handles POST /v1/payments/webhook.  The body is only trusted for
// the event id: the event itself is re-fetched from the processor.  Each
// event id is applied at most once.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	const op = "handler.Payment.Webhook"
	var req webhookReq
	if err := c.Bind(&req); err != nil || req.ID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event"})
	}
	if h.Provider == nil {
		return respondErr(c, h.Log, op, payment.ErrDisabled)
	}
	ctx := c.Request().Context()
	ev, err := h.Provider.RetrieveEvent(ctx, req.ID)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	if ev.Key != payment.EventChargeComplete || ev.Charge == nil {
		return c.JSON(http.StatusOK, echo.Map{"ignored": true})
	}
	p, err := h.Payments.GetByProviderRef(ctx, h.Provider.Name(), ev.Charge.ID)
	if errors.Is(err, repository.ErrNotFound) {
		h.Log.Warn("webhook for unknown charge", slog.String("event_id", ev.ID), slog.String("charge_id", ev.Charge.ID))
		return c.JSON(http.StatusOK, echo.Map{"ignored": true})
	}
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	if _, err := h.finalize(ctx, p.ID, *ev.Charge, ev.ID); err != nil {
		return respondErr(c, h.Log, op, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}

// List handles GET /v1/payments.
func (h *PaymentHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Payments.ListByUser(c.Request().Context(), uid)
	if err != nil {
		return respondErr(c, h.Log, "handler.Payment.List", err)
	}
	return c.JSON(http.StatusOK, items)
}

type finalizeResult struct {
	Payment   model.Payment
	Booking   model.Booking
	SlotTaken bool
}

func (h *PaymentHandler) result(c echo.Context, status int, res finalizeResult) error {
	if res.SlotTaken {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":   "slot is no longer available, payment refunded",
			"payment": res.Payment,
			"booking": res.Booking,
		})
	}
	return c.JSON(status, echo.Map{"payment": res.Payment, "booking": res.Booking})
}

// finalize applies a charge to its payment row.  Only PENDING payments
// move; anything else is returned as is.  A successful charge confirms the
// booking unless its hold lapsed and the range was rebooked meanwhile, in
// which case the charge is refunded.  A non-empty eventID is recorded so a
// redelivered webhook changes nothing.
func (h *PaymentHandler) finalize(ctx context.Context, paymentID uint64, ch payment.Charge, eventID string) (finalizeResult, error) {
	var (
		res    finalizeResult
		events []queue.Event
	)
	err := inTx(ctx, h.Payments.DB(), func(tx *sql.Tx) error {
		if eventID != "" {
			fresh, err := h.Payments.MarkEventProcessedTx(ctx, tx, eventID, payment.EventChargeComplete)
			if err != nil {
				return err
			}
			if !fresh {
				h.Log.Info("webhook event already processed", slog.String("event_id", eventID))
				return h.loadTx(ctx, tx, paymentID, &res)
			}
		}
		bookingID, facilityID, err := h.Payments.TargetTx(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		// Same order as booking creation: facility, then booking, then payment.
		f, err := h.Facilities.LockTx(ctx, tx, facilityID)
		if err != nil {
			return err
		}
		b, err := h.Bookings.GetForUpdateTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		p, err := h.Payments.GetForUpdateTx(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		res.Payment, res.Booking = p, b
		if p.Status != model.PaymentPending {
			return nil
		}

		switch ch.Status {
		case payment.StatusSuccessful:
			ok, err := h.confirmable(ctx, tx, b)
			if err != nil {
				return err
			}
			if !ok {
				if err := refundCharge(ctx, tx, h.Provider, h.Payments, &p); err != nil {
					return err
				}
				res.Payment, res.SlotTaken = p, true
				ev := queue.NewEvent(queue.KeyPaymentRefunded, b.ID, 0, p.UserID).With(queue.AttrFacility, f.Name)
				ev.AmountCents, ev.Currency = p.AmountCents, p.Currency
				events = append(events, ev)
				return nil
			}
			if err := h.Payments.SetStatusTx(ctx, tx, p.ID, model.PaymentPaid, nil); err != nil {
				return err
			}
			if err := h.Bookings.SetStatusTx(ctx, tx, b.ID, model.BookingConfirmed, model.BookingPending, model.BookingExpired); err != nil {
				return err
			}
			p.Status = model.PaymentPaid
			b.Status, b.ExpiresAt = model.BookingConfirmed, nil
			res.Payment, res.Booking = p, b

			paid := queue.NewEvent(queue.KeyPaymentPaid, b.ID, 0, p.UserID).With(queue.AttrFacility, f.Name)
			paid.AmountCents, paid.Currency = p.AmountCents, p.Currency
			confirmed := queue.NewEvent(queue.KeyBookingConfirmed, b.ID, 0, b.UserID, f.ManagerID).
				With(queue.AttrFacility, f.Name).
				With(queue.AttrStartsAt, b.StartsAt.Format(time.RFC3339))
			events = append(events, paid, confirmed)

		case payment.StatusFailed, payment.StatusExpired, payment.StatusReversed:
			code := ch.FailureCode
			if code == "" {
				code = ch.Status
			}
			if err := h.Payments.SetStatusTx(ctx, tx, p.ID, model.PaymentFailed, &code); err != nil {
				return err
			}
			p.Status, p.FailureCode = model.PaymentFailed, &code
			res.Payment = p
			ev := queue.NewEvent(queue.KeyPaymentFailed, b.ID, 0, p.UserID).With(queue.AttrFailureCode, code)
			ev.AmountCents, ev.Currency = p.AmountCents, p.Currency
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return finalizeResult{}, err
	}
	for _, ev := range events {
		service.PublishBestEffort(ctx, h.Pub, h.Log, ev)
	}
	if len(events) > 0 {
		h.Metrics.PaymentOutcome(res.Payment.Status)
		h.Log.Info("payment finalized",
			slog.Uint64("payment_id", res.Payment.ID),
			slog.String("status", res.Payment.Status),
			slog.Bool("slot_taken", res.SlotTaken))
	}
	return res, nil
}

// confirmable reports whether a paid booking can become CONFIRMED.  The
// caller holds the facility lock.  A lapsed or cancelled hold is only
// revived when nothing else took its range.
func (h *PaymentHandler) confirmable(ctx context.Context, tx *sql.Tx, b model.Booking) (bool, error) {
	switch b.Status {
	case model.BookingPending, model.BookingExpired:
	default:
		return false, nil
	}
	if b.Status == model.BookingPending && b.IsActive(h.now()) {
		return true, nil
	}
	taken, err := h.Bookings.HasOverlapTx(ctx, tx, b.FacilityID, b.StartsAt, b.EndsAt, b.ID)
	if err != nil {
		return false, err
	}
	if taken {
		h.Log.Warn("paid hold lost its slot", slog.Uint64("booking_id", b.ID))
	}
	return !taken, nil
}

func (h *PaymentHandler) loadTx(ctx context.Context, tx *sql.Tx, paymentID uint64, res *finalizeResult) error {
	bookingID, _, err := h.Payments.TargetTx(ctx, tx, paymentID)
	if err != nil {
		return err
	}
	b, err := h.Bookings.GetForUpdateTx(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	p, err := h.Payments.GetForUpdateTx(ctx, tx, paymentID)
	if err != nil {
		return err
	}
	res.Payment, res.Booking = p, b
	return nil
}
