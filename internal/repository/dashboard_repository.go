package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MonthRevenue is the paid total of one calendar month (UTC), "YYYY-MM".
type MonthRevenue struct {
	Month     string `json:"month"`
	PaidCents int64  `json:"paid_cents"`
}

// FacilityRevenue ranks a facility by paid revenue.
type FacilityRevenue struct {
	FacilityID uint64 `json:"facility_id"`
	Name       string `json:"name"`
	PaidCents  int64  `json:"paid_cents"`
	Bookings   int64  `json:"bookings"`
}

// Revenue summarises payments.
type Revenue struct {
	PaidCents     int64          `json:"paid_cents"`
	RefundedCents int64          `json:"refunded_cents"`
	ByMonth       []MonthRevenue `json:"by_month"`
}

// DashboardRepo runs the aggregate queries behind the admin and manager
// dashboards.  A zero managerID means "every facility".
type DashboardRepo struct {
	db *sql.DB
}

func NewDashboardRepo(db *sql.DB) *DashboardRepo { return &DashboardRepo{db: db} }

// scope returns the join and predicate restricting rows to a manager's
// facilities.  bookingAlias names the bookings table in the caller's query.
func scope(managerID uint64, bookingAlias string) (string, []any) {
	if managerID == 0 {
		return "", nil
	}
	return " AND " + bookingAlias + ".facility_id IN (SELECT id FROM facilities WHERE manager_id = ?)", []any{managerID}
}

// Revenue sums PAID and REFUNDED payments and breaks paid revenue down by
// month for the 12 months ending at now.
func (r *DashboardRepo) Revenue(ctx context.Context, managerID uint64, now time.Time) (Revenue, error) {
	const op = "repository.DashboardRepo.Revenue"
	cond, args := scope(managerID, "b")
	var out Revenue
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN p.status = 'PAID' THEN p.amount_cents ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN p.status = 'REFUNDED' THEN p.amount_cents ELSE 0 END), 0)
		 FROM payments p JOIN bookings b ON b.id = p.booking_id
		 WHERE 1=1`+cond, args...).Scan(&out.PaidCents, &out.RefundedCents)
	if err != nil {
		return Revenue{}, fmt.Errorf("%s: %w", op, err)
	}

	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0)
	monthArgs := append([]any{first}, args...)
	rows, err := r.db.QueryContext(ctx,
		`SELECT DATE_FORMAT(p.updated_at, '%Y-%m') AS month, SUM(p.amount_cents)
		 FROM payments p JOIN bookings b ON b.id = p.booking_id
		 WHERE p.status = 'PAID' AND p.updated_at >= ?`+cond+`
		 GROUP BY month`, monthArgs...)
	if err != nil {
		return Revenue{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	byMonth := map[string]int64{}
	for rows.Next() {
		var m string
		var cents int64
		if err := rows.Scan(&m, &cents); err != nil {
			return Revenue{}, fmt.Errorf("%s: %w", op, err)
		}
		byMonth[m] = cents
	}
	if err := rows.Err(); err != nil {
		return Revenue{}, fmt.Errorf("%s: %w", op, err)
	}
	for i := 0; i < 12; i++ {
		key := first.AddDate(0, i, 0).Format("2006-01")
		out.ByMonth = append(out.ByMonth, MonthRevenue{Month: key, PaidCents: byMonth[key]})
	}
	return out, nil
}

// BookingsByStatus counts bookings per status.
func (r *DashboardRepo) BookingsByStatus(ctx context.Context, managerID uint64) (map[string]int64, error) {
	cond, args := scope(managerID, "b")
	return r.countBy(ctx, "repository.DashboardRepo.BookingsByStatus",
		"SELECT b.status, COUNT(*) FROM bookings b WHERE 1=1"+cond+" GROUP BY b.status", args...)
}

// UsersByRole counts users per role.
func (r *DashboardRepo) UsersByRole(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "repository.DashboardRepo.UsersByRole",
		"SELECT role, COUNT(*) FROM users GROUP BY role")
}

func (r *DashboardRepo) countBy(ctx context.Context, op, q string, args ...any) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[k] = n
	}
	return out, rows.Err()
}

// TopFacilities returns up to limit facilities by paid revenue.
func (r *DashboardRepo) TopFacilities(ctx context.Context, managerID uint64, limit int) ([]FacilityRevenue, error) {
	const op = "repository.DashboardRepo.TopFacilities"
	cond := ""
	args := []any{}
	if managerID != 0 {
		cond = " WHERE f.manager_id = ?"
		args = append(args, managerID)
	}
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.id, f.name,
		        COALESCE(SUM(CASE WHEN p.status = 'PAID' THEN p.amount_cents ELSE 0 END), 0) AS paid,
		        COUNT(DISTINCT b.id)
		 FROM facilities f
		 LEFT JOIN bookings b ON b.facility_id = f.id
		 LEFT JOIN payments p ON p.booking_id = b.id`+cond+`
		 GROUP BY f.id, f.name
		 ORDER BY paid DESC, f.id ASC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []FacilityRevenue{}
	for rows.Next() {
		var fr FacilityRevenue
		if err := rows.Scan(&fr.FacilityID, &fr.Name, &fr.PaidCents, &fr.Bookings); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// Occupancy returns the booked minutes of CONFIRMED and COMPLETED bookings
// within [from, to) and the minutes the manager's active facilities were
// open over the same days.
func (r *DashboardRepo) Occupancy(ctx context.Context, managerID uint64, from, to time.Time) (booked, open int64, err error) {
	const op = "repository.DashboardRepo.Occupancy"
	from, to = from.UTC(), to.UTC()
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(TIMESTAMPDIFF(MINUTE, GREATEST(b.starts_at, ?), LEAST(b.ends_at, ?))), 0)
		 FROM bookings b JOIN facilities f ON f.id = b.facility_id
		 WHERE f.manager_id = ? AND b.status IN ('CONFIRMED','COMPLETED')
		   AND b.starts_at < ? AND b.ends_at > ?`,
		from, to, managerID, to, from).Scan(&booked)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	var perDay int64
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(close_minute - open_minute), 0) FROM facilities WHERE manager_id = ? AND is_active = 1`,
		managerID).Scan(&perDay)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	days := int64(to.Sub(from).Hours() / 24)
	return booked, perDay * days, nil
}
