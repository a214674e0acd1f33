package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/sportsbook/internal/model"
)

const paymentColumns = `id, booking_id, user_id, provider, provider_ref, amount_cents, currency, status,
	authorize_uri, failure_code, created_at, updated_at`

// PaymentRepo stores payment attempts and the processed provider events
// used to make webhook handling idempotent.
type PaymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// DB exposes the pool so handlers can open transactions spanning repos.
func (r *PaymentRepo) DB() *sql.DB { return r.db }

func scanPayment(row interface{ Scan(...any) error }, p *model.Payment) error {
	var code sql.NullString
	if err := row.Scan(&p.ID, &p.BookingID, &p.UserID, &p.Provider, &p.ProviderRef, &p.AmountCents, &p.Currency,
		&p.Status, &p.AuthorizeURI, &code, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return err
	}
	if code.Valid {
		c := code.String
		p.FailureCode = &c
	}
	return nil
}

// Create inserts p and populates its id and timestamps.
func (r *PaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	const op = "repository.PaymentRepo.Create"
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (booking_id, user_id, provider, provider_ref, amount_cents, currency, status, authorize_uri)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.BookingID, p.UserID, p.Provider, p.ProviderRef, p.AmountCents, p.Currency, p.Status, p.AuthorizeURI)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return wrap(op, scanPayment(r.db.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id), p))
}

// GetForUser returns a payment owned by userID.
func (r *PaymentRepo) GetForUser(ctx context.Context, id, userID uint64) (model.Payment, error) {
	var p model.Payment
	err := scanPayment(r.db.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE id = ? AND user_id = ?", id, userID), &p)
	return p, wrap("repository.PaymentRepo.GetForUser", err)
}

// GetByProviderRef looks a payment up by the processor's charge id.
func (r *PaymentRepo) GetByProviderRef(ctx context.Context, provider, ref string) (model.Payment, error) {
	var p model.Payment
	err := scanPayment(r.db.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE provider = ? AND provider_ref = ?", provider, ref), &p)
	return p, wrap("repository.PaymentRepo.GetByProviderRef", err)
}

// GetForUpdateTx fetches and row-locks a payment.
func (r *PaymentRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Payment, error) {
	var p model.Payment
	err := scanPayment(tx.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE id = ? FOR UPDATE", id), &p)
	return p, wrap("repository.PaymentRepo.GetForUpdateTx", err)
}

// TargetTx returns the booking and facility a payment belongs to with a
// plain read, so callers can take the facility lock before any row lock.
func (r *PaymentRepo) TargetTx(ctx context.Context, tx *sql.Tx, id uint64) (bookingID, facilityID uint64, err error) {
	err = tx.QueryRowContext(ctx,
		`SELECT p.booking_id, b.facility_id FROM payments p JOIN bookings b ON b.id = p.booking_id WHERE p.id = ?`,
		id).Scan(&bookingID, &facilityID)
	return bookingID, facilityID, wrap("repository.PaymentRepo.TargetTx", err)
}

// PaidForBookingTx returns the PAID payment of a booking, if any.
func (r *PaymentRepo) PaidForBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (model.Payment, error) {
	var p model.Payment
	err := scanPayment(tx.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE booking_id = ? AND status = 'PAID' ORDER BY id DESC LIMIT 1 FOR UPDATE",
		bookingID), &p)
	return p, wrap("repository.PaymentRepo.PaidForBookingTx", err)
}

// SetStatusTx records a new status and, for failures, the processor's
// failure code.
func (r *PaymentRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status string, failureCode *string) error {
	const op = "repository.PaymentRepo.SetStatusTx"
	res, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = ?, failure_code = COALESCE(?, failure_code) WHERE id = ?",
		status, failureCode, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affected(op, res)
}

// ListByUser returns the user's payments, newest first.
func (r *PaymentRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Payment, error) {
	const op = "repository.PaymentRepo.ListByUser"
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE user_id = ? ORDER BY id DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.Payment{}
	for rows.Next() {
		var p model.Payment
		if err := scanPayment(rows, &p); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// MarkEventProcessedTx records a provider event id.  It returns false when
// the event was already recorded, in which case the caller must skip it.
func (r *PaymentRepo) MarkEventProcessedTx(ctx context.Context, tx *sql.Tx, eventID, key string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT IGNORE INTO processed_events (id, event_key) VALUES (?, ?)", eventID, key)
	if err != nil {
		return false, fmt.Errorf("repository.PaymentRepo.MarkEventProcessedTx: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository.PaymentRepo.MarkEventProcessedTx: %w", err)
	}
	return n == 1, nil
}
