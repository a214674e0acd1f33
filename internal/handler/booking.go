package handler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/config"
	"github.com/iliyamo/sportsbook/internal/middleware"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/payment"
	"github.com/iliyamo/sportsbook/internal/queue"
	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/service"
)

// BookingHandler creates, lists and cancels bookings.  All methods assume
// JWT authentication has already run.
type BookingHandler struct {
	Cfg        config.BookingConfig
	Facilities *repository.FacilityRepo
	Bookings   *repository.BookingRepo
	Payments   *repository.PaymentRepo
	Provider   payment.Provider // nil when payments are disabled
	Pub        service.EventPublisher
	Metrics    *middleware.Metrics
	Log        *slog.Logger
	Now        func() time.Time
}

func (h *BookingHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type createBookingReq struct {
	FacilityID uint64    `json:"facility_id" validate:"required"`
	StartsAt   time.Time `json:"starts_at" validate:"required"`
	EndsAt     time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

// Create handles POST /v1/bookings.  The facility row is locked for the
// whole transaction so two requests for the same facility are serialised:
// lapsed holds are expired, the range is checked against every active
// booking and only then is the PENDING booking inserted.
func (h *BookingHandler) Create(c echo.Context) error {
	const op = "handler.Booking.Create"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createBookingReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	start, end := req.StartsAt.UTC(), req.EndsAt.UTC()
	rules := service.SlotRules{MaxSlots: h.Cfg.MaxSlots, Now: h.now}

	ctx := c.Request().Context()
	var (
		b model.Booking
		f model.Facility
	)
	err = inTx(ctx, h.Bookings.DB(), func(tx *sql.Tx) error {
		var err error
		f, err = h.Facilities.LockTx(ctx, tx, req.FacilityID)
		if err != nil {
			return err
		}
		if !f.IsActive {
			return repository.ErrNotFound
		}
		if _, err := rules.Validate(f, start, end); err != nil {
			return err
		}
		if _, err := h.Bookings.ExpirePendingTx(ctx, tx, f.ID); err != nil {
			return err
		}
		overlap, err := h.Bookings.HasOverlapTx(ctx, tx, f.ID, start, end, 0)
		if err != nil {
			return err
		}
		if overlap {
			return repository.ErrOverlap
		}
		exp := h.now().UTC().Add(h.Cfg.HoldTTL)
		b = model.Booking{
			UserID:           uid,
			FacilityID:       f.ID,
			StartsAt:         start,
			EndsAt:           end,
			Status:           model.BookingPending,
			TotalAmountCents: service.Price(f, start, end),
			Currency:         f.Currency,
			HoldToken:        uuid.NewString(),
			ExpiresAt:        &exp,
		}
		return h.Bookings.CreateTx(ctx, tx, &b)
	})
	switch {
	case err == nil:
		h.Metrics.BookingOutcome("created")
	case errors.Is(err, repository.ErrOverlap):
		h.Metrics.BookingOutcome("overlap")
		return respondErr(c, h.Log, op, err)
	default:
		h.Metrics.BookingOutcome("rejected")
		return respondErr(c, h.Log, op, err)
	}

	ev := queue.NewEvent(queue.KeyBookingCreated, b.ID, uid, uid, f.ManagerID).
		With(queue.AttrFacility, f.Name).
		With(queue.AttrStartsAt, b.StartsAt.Format(time.RFC3339))
	ev.AmountCents, ev.Currency = b.TotalAmountCents, b.Currency
	service.PublishBestEffort(ctx, h.Pub, h.Log, ev)

	return c.JSON(http.StatusCreated, b)
}

// List handles GET /v1/bookings?status=.
func (h *BookingHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Bookings.ListByUser(c.Request().Context(), uid, strings.TrimSpace(c.QueryParam("status")))
	if err != nil {
		return respondErr(c, h.Log, "handler.Booking.List", err)
	}
	return c.JSON(http.StatusOK, items)
}

// Get handles GET /v1/bookings/:id.  Other users' bookings are 404.
func (h *BookingHandler) Get(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	d, err := h.Bookings.GetForUser(c.Request().Context(), id, uid)
	if err != nil {
		return respondErr(c, h.Log, "handler.Booking.Get", err)
	}
	return c.JSON(http.StatusOK, d)
}

// Cancel handles POST /v1/bookings/:id/cancel.  Players may cancel their
// own active bookings before they start.
func (h *BookingHandler) Cancel(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	return h.cancel(c, id, uid, func(b model.Booking, _ model.Facility) error {
		if b.UserID != uid {
			return repository.ErrNotFound
		}
		if !h.now().Before(b.StartsAt) {
			return reject(http.StatusConflict, "booking has already started")
		}
		return nil
	})
}

// cancel moves an active booking to CANCELLED.  When it was paid the
// charge is refunded in the same transaction, so a refund failure leaves
// the booking untouched.
func (h *BookingHandler) cancel(c echo.Context, id, actor uint64, authorize func(model.Booking, model.Facility) error) error {
	const op = "handler.Booking.Cancel"
	ctx := c.Request().Context()
	var (
		b        model.Booking
		f        model.Facility
		refunded *model.Payment
	)
	err := inTx(ctx, h.Bookings.DB(), func(tx *sql.Tx) error {
		var err error
		if b, err = h.Bookings.GetForUpdateTx(ctx, tx, id); err != nil {
			return err
		}
		if f, err = h.Facilities.GetByID(ctx, b.FacilityID); err != nil {
			return err
		}
		if err := authorize(b, f); err != nil {
			return err
		}
		if b.Status != model.BookingPending && b.Status != model.BookingConfirmed {
			return reject(http.StatusConflict, "booking is not active")
		}
		if err := h.Bookings.SetStatusTx(ctx, tx, b.ID, model.BookingCancelled, model.BookingPending, model.BookingConfirmed); err != nil {
			return err
		}
		wasConfirmed := b.Status == model.BookingConfirmed
		b.Status = model.BookingCancelled
		b.ExpiresAt = nil
		if !wasConfirmed {
			return nil
		}
		refunded, err = refundPaid(ctx, tx, h.Provider, h.Payments, b.ID)
		return err
	})
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}

	service.PublishBestEffort(ctx, h.Pub, h.Log,
		queue.NewEvent(queue.KeyBookingCancelled, b.ID, actor, b.UserID, f.ManagerID).With(queue.AttrFacility, f.Name))
	if refunded != nil {
		publishRefund(ctx, h.Pub, h.Log, *refunded)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": b, "refunded": refunded != nil})
}

// refundPaid refunds the PAID payment of a booking, if there is one, and
// marks it REFUNDED.  It returns nil when nothing was paid.
func refundPaid(ctx context.Context, tx *sql.Tx, provider payment.Provider, payments *repository.PaymentRepo, bookingID uint64) (*model.Payment, error) {
	p, err := payments.PaidForBookingTx(ctx, tx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := refundCharge(ctx, tx, provider, payments, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// refundCharge refunds p in full at the processor and records it.
func refundCharge(ctx context.Context, tx *sql.Tx, provider payment.Provider, payments *repository.PaymentRepo, p *model.Payment) error {
	if provider == nil {
		return payment.ErrDisabled
	}
	if err := provider.Refund(ctx, p.ProviderRef, int64(p.AmountCents)); err != nil {
		return err
	}
	if err := payments.SetStatusTx(ctx, tx, p.ID, model.PaymentRefunded, nil); err != nil {
		return err
	}
	p.Status = model.PaymentRefunded
	return nil
}

func publishRefund(ctx context.Context, pub service.EventPublisher, log *slog.Logger, p model.Payment) {
	ev := queue.NewEvent(queue.KeyPaymentRefunded, p.BookingID, 0, p.UserID)
	ev.AmountCents, ev.Currency = p.AmountCents, p.Currency
	service.PublishBestEffort(ctx, pub, log, ev)
}
