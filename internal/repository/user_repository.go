package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iliyamo/sportsbook/internal/database"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/utils"
)

const userColumns = "id,email,password_hash,display_name,role,is_active,created_at,updated_at"

type UserRepo struct{ db *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

func scanUser(row interface{ Scan(...any) error }, u *model.User) error {
	return row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
}

// NormalizeEmail lower-cases and trims an address the way it is stored.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create hashes password and inserts the user.  It returns ErrEmailExists
// when the address is taken.
func (r *UserRepo) Create(ctx context.Context, email, password, displayName, role string, cost int) (model.User, error) {
	const op = "repository.UserRepo.Create"
	email = NormalizeEmail(email)
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, display_name, role) VALUES (?,?,?,?)",
		email, hash, displayName, role)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return model.User{}, fmt.Errorf("%s: %w", op, ErrEmailExists)
		}
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email)), &u)
	return u, wrap("repository.UserRepo.GetByEmail", err)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id), &u)
	return u, wrap("repository.UserRepo.GetByID", err)
}

// UpdateDisplayName changes the caller's public name.
func (r *UserRepo) UpdateDisplayName(ctx context.Context, id uint64, name string) error {
	const op = "repository.UserRepo.UpdateDisplayName"
	res, err := r.db.ExecContext(ctx, "UPDATE users SET display_name=? WHERE id=?", strings.TrimSpace(name), id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affected(op, res)
}

// UserPatch holds the admin-editable fields; nil means unchanged.
type UserPatch struct {
	Role     *string
	IsActive *bool
}

// AdminUpdate applies p to user id.  ErrNoChange is returned for an empty
// patch.
func (r *UserRepo) AdminUpdate(ctx context.Context, id uint64, p UserPatch) error {
	const op = "repository.UserRepo.AdminUpdate"
	sets := []string{}
	args := []any{}
	if p.Role != nil {
		sets = append(sets, "role=?")
		args = append(args, *p.Role)
	}
	if p.IsActive != nil {
		sets = append(sets, "is_active=?")
		args = append(args, *p.IsActive)
	}
	if len(sets) == 0 {
		return fmt.Errorf("%s: %w", op, ErrNoChange)
	}
	args = append(args, id)
	res, err := r.db.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ",")+" WHERE id=?", args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affected(op, res)
}

// List returns one page of users ordered by id, optionally filtered by
// role, along with the total number of matching rows.
func (r *UserRepo) List(ctx context.Context, role string, page, pageSize int) ([]model.User, int64, error) {
	const op = "repository.UserRepo.List"
	cond := "1=1"
	args := []any{}
	if role != "" {
		cond = "role=?"
		args = append(args, role)
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+cond+" ORDER BY id LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := make([]model.User, 0, pageSize)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return out, total, nil
}

// DisplayNames resolves ids to display names.  Missing ids are omitted.
func (r *UserRepo) DisplayNames(ctx context.Context, ids []uint64) (map[uint64]string, error) {
	const op = "repository.UserRepo.DisplayNames"
	out := make(map[uint64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, display_name FROM users WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

// placeholders returns "?,?,...,?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
