package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/sportsbook/internal/model"
)

const facilityColumns = `f.id, f.manager_id, f.name, f.sport, f.city, f.address, f.description, f.timezone,
	f.open_minute, f.close_minute, f.slot_minutes, f.price_per_hour_cents, f.weekend_price_per_hour_cents,
	f.currency, f.is_active, f.created_at, f.updated_at`

// FacilityRepo encapsulates all database queries related to facilities.
type FacilityRepo struct {
	db *sql.DB
}

func NewFacilityRepo(db *sql.DB) *FacilityRepo { return &FacilityRepo{db: db} }

// DB exposes the pool so handlers can open transactions spanning repos.
func (r *FacilityRepo) DB() *sql.DB { return r.db }

func scanFacility(row interface{ Scan(...any) error }, f *model.Facility) error {
	var (
		desc    sql.NullString
		weekend sql.NullInt64
	)
	if err := row.Scan(&f.ID, &f.ManagerID, &f.Name, &f.Sport, &f.City, &f.Address, &desc, &f.Timezone,
		&f.OpenMinute, &f.CloseMinute, &f.SlotMinutes, &f.PricePerHourCents, &weekend,
		&f.Currency, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return err
	}
	if desc.Valid {
		d := desc.String
		f.Description = &d
	}
	if weekend.Valid {
		w := uint32(weekend.Int64)
		f.WeekendPricePerHourCents = &w
	}
	return nil
}

// Create inserts f and re-reads it so defaults and timestamps are populated.
func (r *FacilityRepo) Create(ctx context.Context, f *model.Facility) error {
	const op = "repository.FacilityRepo.Create"
	res, err := r.db.ExecContext(ctx, `INSERT INTO facilities
		(manager_id, name, sport, city, address, description, timezone, open_minute, close_minute,
		 slot_minutes, price_per_hour_cents, weekend_price_per_hour_cents, currency)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ManagerID, f.Name, f.Sport, f.City, f.Address, f.Description, f.Timezone, f.OpenMinute, f.CloseMinute,
		f.SlotMinutes, f.PricePerHourCents, f.WeekendPricePerHourCents, f.Currency)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	got, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	*f = got
	return nil
}

// GetByID fetches a facility regardless of manager or active flag.
func (r *FacilityRepo) GetByID(ctx context.Context, id uint64) (model.Facility, error) {
	var f model.Facility
	err := scanFacility(r.db.QueryRowContext(ctx, "SELECT "+facilityColumns+" FROM facilities f WHERE f.id = ?", id), &f)
	return f, wrap("repository.FacilityRepo.GetByID", err)
}

// GetForManager fetches a facility that managerID may edit.  Admins pass
// admin=true and may edit any facility.  Returns ErrForbidden when the
// facility exists but belongs to another manager.
func (r *FacilityRepo) GetForManager(ctx context.Context, id, managerID uint64, admin bool) (model.Facility, error) {
	f, err := r.GetByID(ctx, id)
	if err != nil {
		return f, err
	}
	if !admin && f.ManagerID != managerID {
		return model.Facility{}, fmt.Errorf("repository.FacilityRepo.GetForManager: %w", ErrForbidden)
	}
	return f, nil
}

// LockTx loads a facility with SELECT ... FOR UPDATE, serialising booking
// inserts for that facility until the transaction ends.
func (r *FacilityRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Facility, error) {
	var f model.Facility
	err := scanFacility(tx.QueryRowContext(ctx,
		"SELECT "+facilityColumns+" FROM facilities f WHERE f.id = ? FOR UPDATE", id), &f)
	return f, wrap("repository.FacilityRepo.LockTx", err)
}

// ListByManager returns every facility of a manager ordered by id.
func (r *FacilityRepo) ListByManager(ctx context.Context, managerID uint64) ([]model.Facility, error) {
	const op = "repository.FacilityRepo.ListByManager"
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+facilityColumns+" FROM facilities f WHERE f.manager_id = ? ORDER BY f.id", managerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.Facility{}
	for rows.Next() {
		var f model.Facility
		if err := scanFacility(rows, &f); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Update writes every editable column of f.
func (r *FacilityRepo) Update(ctx context.Context, f *model.Facility) error {
	const op = "repository.FacilityRepo.Update"
	_, err := r.db.ExecContext(ctx, `UPDATE facilities SET name=?, sport=?, city=?, address=?, description=?,
		timezone=?, open_minute=?, close_minute=?, slot_minutes=?, price_per_hour_cents=?,
		weekend_price_per_hour_cents=?, currency=?, is_active=? WHERE id=?`,
		f.Name, f.Sport, f.City, f.Address, f.Description, f.Timezone, f.OpenMinute, f.CloseMinute,
		f.SlotMinutes, f.PricePerHourCents, f.WeekendPricePerHourCents, f.Currency, f.IsActive, f.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	got, err := r.GetByID(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	*f = got
	return nil
}

// Deactivate removes a facility from public listings.  Past bookings keep
// referencing the row, so it is never physically deleted.  ErrConflict is
// returned while PENDING or CONFIRMED bookings that have not ended exist.
func (r *FacilityRepo) Deactivate(ctx context.Context, id uint64) error {
	const op = "repository.FacilityRepo.Deactivate"
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := r.LockTx(ctx, tx, id); err != nil {
		return err
	}
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings
		WHERE facility_id = ? AND ends_at > UTC_TIMESTAMP()
		  AND (status = 'CONFIRMED' OR (status = 'PENDING' AND expires_at > UTC_TIMESTAMP()))`,
		id).Scan(&n); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE facilities SET is_active = 0 WHERE id = ?", id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	committed = true
	return nil
}
