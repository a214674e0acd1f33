package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/iliyamo/sportsbook/internal/model"
)

// FacilitySearchQuery defines filters & pagination for the public
// facility listing.  Zero values disable a filter.
type FacilitySearchQuery struct {
	Sport    string
	City     string
	Q        string
	MaxPrice uint32
	Page     int
	PageSize int
}

// Search lists active facilities matching q ordered by name, returning one
// page and the total number of matches.
func (r *FacilityRepo) Search(ctx context.Context, q FacilitySearchQuery) ([]model.Facility, int64, error) {
	const op = "repository.FacilityRepo.Search"
	where := []string{"f.is_active = 1"}
	args := []any{}

	if q.Sport != "" {
		where = append(where, "f.sport = ?")
		args = append(args, strings.ToLower(q.Sport))
	}
	if q.City != "" {
		where = append(where, "LOWER(f.city) = ?")
		args = append(args, strings.ToLower(q.City))
	}
	if q.Q != "" {
		where = append(where, "LOWER(f.name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Q)+"%")
	}
	if q.MaxPrice > 0 {
		where = append(where, "f.price_per_hour_cents <= ?")
		args = append(args, q.MaxPrice)
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facilities f WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	limit := q.PageSize
	offset := (q.Page - 1) * q.PageSize
	argsData := append(append([]any{}, args...), limit, offset)
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+facilityColumns+" FROM facilities f WHERE "+cond+" ORDER BY f.name ASC, f.id ASC LIMIT ? OFFSET ?",
		argsData...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]model.Facility, 0, limit)
	for rows.Next() {
		var f model.Facility
		if err := scanFacility(rows, &f); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return out, total, nil
}
