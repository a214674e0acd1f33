package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/sportsbook/internal/model"
)

const bookingColumns = `b.id, b.user_id, b.facility_id, b.starts_at, b.ends_at, b.status,
	b.total_amount_cents, b.currency, b.hold_token, b.expires_at, b.created_at, b.updated_at`

// activePredicate matches bookings that block their time range.  Stale
// PENDING rows are excluded even before the sweep has expired them.
const activePredicate = `(b.status = 'CONFIRMED' OR (b.status = 'PENDING' AND b.expires_at > UTC_TIMESTAMP()))`

// BookingRepo provides access to the bookings table.  All timestamps are
// UTC.  Methods suffixed with Tx run inside a caller-owned transaction;
// the caller must commit or roll back.
type BookingRepo struct {
	db *sql.DB
}

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the pool so handlers can open transactions spanning repos.
func (r *BookingRepo) DB() *sql.DB { return r.db }

func scanBooking(row interface{ Scan(...any) error }, b *model.Booking) error {
	var exp sql.NullTime
	if err := row.Scan(&b.ID, &b.UserID, &b.FacilityID, &b.StartsAt, &b.EndsAt, &b.Status,
		&b.TotalAmountCents, &b.Currency, &b.HoldToken, &exp, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return err
	}
	if exp.Valid {
		t := exp.Time
		b.ExpiresAt = &t
	}
	return nil
}

// ExpirePendingTx flips PENDING bookings of a facility whose hold has
// lapsed to EXPIRED and returns how many rows changed.
func (r *BookingRepo) ExpirePendingTx(ctx context.Context, tx *sql.Tx, facilityID uint64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = 'EXPIRED'
		 WHERE facility_id = ? AND status = 'PENDING' AND expires_at <= UTC_TIMESTAMP()`,
		facilityID)
	if err != nil {
		return 0, fmt.Errorf("repository.BookingRepo.ExpirePendingTx: %w", err)
	}
	return res.RowsAffected()
}

// HasOverlapTx reports whether an active booking other than excludeID
// intersects [start, end).  Ranges are half-open: a booking ending exactly
// at start does not overlap.  Callers must hold the facility lock.
func (r *BookingRepo) HasOverlapTx(ctx context.Context, tx *sql.Tx, facilityID uint64, start, end time.Time, excludeID uint64) (bool, error) {
	var id uint64
	err := tx.QueryRowContext(ctx,
		`SELECT b.id FROM bookings b
		 WHERE b.facility_id = ? AND b.id <> ? AND `+activePredicate+`
		   AND b.starts_at < ? AND b.ends_at > ?
		 LIMIT 1`,
		facilityID, excludeID, end.UTC(), start.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository.BookingRepo.HasOverlapTx: %w", err)
	}
	return true, nil
}

// CreateTx inserts b and populates its id and timestamps.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const op = "repository.BookingRepo.CreateTx"
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (user_id, facility_id, starts_at, ends_at, status, total_amount_cents, currency, hold_token, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.UserID, b.FacilityID, b.StartsAt.UTC(), b.EndsAt.UTC(), b.Status, b.TotalAmountCents, b.Currency, b.HoldToken, b.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return wrap(op, scanBooking(tx.QueryRowContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings b WHERE b.id = ?", id), b))
}

// GetByID fetches a booking regardless of owner.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (model.Booking, error) {
	var b model.Booking
	err := scanBooking(r.db.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings b WHERE b.id = ?", id), &b)
	return b, wrap("repository.BookingRepo.GetByID", err)
}

// GetForUpdateTx fetches and row-locks a booking.
func (r *BookingRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Booking, error) {
	var b model.Booking
	err := scanBooking(tx.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings b WHERE b.id = ? FOR UPDATE", id), &b)
	return b, wrap("repository.BookingRepo.GetForUpdateTx", err)
}

const bookingDetailSelect = `SELECT ` + bookingColumns + `, f.name, f.sport, f.city,
	COALESCE((SELECT p.status FROM payments p WHERE p.booking_id = b.id ORDER BY p.id DESC LIMIT 1), '')
	FROM bookings b JOIN facilities f ON f.id = b.facility_id`

func scanBookingDetail(row interface{ Scan(...any) error }, d *model.BookingDetail) error {
	var exp sql.NullTime
	b := &d.Booking
	if err := row.Scan(&b.ID, &b.UserID, &b.FacilityID, &b.StartsAt, &b.EndsAt, &b.Status,
		&b.TotalAmountCents, &b.Currency, &b.HoldToken, &exp, &b.CreatedAt, &b.UpdatedAt,
		&d.FacilityName, &d.Sport, &d.City, &d.PaymentState); err != nil {
		return err
	}
	if exp.Valid {
		t := exp.Time
		b.ExpiresAt = &t
	}
	return nil
}

// GetForUser returns a booking owned by userID.  Bookings of other users
// are reported as ErrNotFound.
func (r *BookingRepo) GetForUser(ctx context.Context, id, userID uint64) (model.BookingDetail, error) {
	var d model.BookingDetail
	err := scanBookingDetail(r.db.QueryRowContext(ctx, bookingDetailSelect+" WHERE b.id = ? AND b.user_id = ?", id, userID), &d)
	return d, wrap("repository.BookingRepo.GetForUser", err)
}

// ListByUser returns the user's bookings, newest start first.  An empty
// status lists every status.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64, status string) ([]model.BookingDetail, error) {
	q := bookingDetailSelect + " WHERE b.user_id = ?"
	args := []any{userID}
	if status != "" {
		q += " AND b.status = ?"
		args = append(args, strings.ToUpper(status))
	}
	q += " ORDER BY b.starts_at DESC, b.id DESC"
	return r.listDetails(ctx, "repository.BookingRepo.ListByUser", q, args...)
}

// ListByFacility returns every booking of a facility that intersects
// [from, to), ordered by start.
func (r *BookingRepo) ListByFacility(ctx context.Context, facilityID uint64, from, to time.Time) ([]model.BookingDetail, error) {
	return r.listDetails(ctx, "repository.BookingRepo.ListByFacility",
		bookingDetailSelect+" WHERE b.facility_id = ? AND b.starts_at < ? AND b.ends_at > ? ORDER BY b.starts_at, b.id",
		facilityID, to.UTC(), from.UTC())
}

func (r *BookingRepo) listDetails(ctx context.Context, op, q string, args ...any) ([]model.BookingDetail, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.BookingDetail{}
	for rows.Next() {
		var d model.BookingDetail
		if err := scanBookingDetail(rows, &d); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// ActiveInRange returns the [start, end) ranges of active bookings of a
// facility intersecting [from, to).  Used to compute availability.
func (r *BookingRepo) ActiveInRange(ctx context.Context, facilityID uint64, from, to time.Time) ([][2]time.Time, error) {
	const op = "repository.BookingRepo.ActiveInRange"
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.starts_at, b.ends_at FROM bookings b
		 WHERE b.facility_id = ? AND `+activePredicate+` AND b.starts_at < ? AND b.ends_at > ?
		 ORDER BY b.starts_at`,
		facilityID, to.UTC(), from.UTC())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var out [][2]time.Time
	for rows.Next() {
		var s, e time.Time
		if err := rows.Scan(&s, &e); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, [2]time.Time{s, e})
	}
	return out, rows.Err()
}

// SetStatusTx moves a booking to status `to` only when its current status
// is one of `from`.  ErrConflict is returned otherwise.  Leaving PENDING
// clears expires_at.
func (r *BookingRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, to string, from ...string) error {
	const op = "repository.BookingRepo.SetStatusTx"
	args := []any{to, id}
	for _, s := range from {
		args = append(args, s)
	}
	q := "UPDATE bookings SET status = ?"
	if to != model.BookingPending {
		q += ", expires_at = NULL"
	}
	q += " WHERE id = ? AND status IN (" + placeholders(len(from)) + ")"
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return nil
}

// SweepExpired marks every lapsed PENDING booking EXPIRED.
func (r *BookingRepo) SweepExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET status = 'EXPIRED' WHERE status = 'PENDING' AND expires_at <= UTC_TIMESTAMP()`)
	if err != nil {
		return 0, fmt.Errorf("repository.BookingRepo.SweepExpired: %w", err)
	}
	return res.RowsAffected()
}

// SweepCompleted marks CONFIRMED bookings that have ended COMPLETED.
func (r *BookingRepo) SweepCompleted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET status = 'COMPLETED' WHERE status = 'CONFIRMED' AND ends_at <= UTC_TIMESTAMP()`)
	if err != nil {
		return 0, fmt.Errorf("repository.BookingRepo.SweepCompleted: %w", err)
	}
	return res.RowsAffected()
}
