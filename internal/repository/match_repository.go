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

const matchSelect = `SELECT m.id, m.host_id, m.sport, m.facility_id, m.booking_id, m.title, m.description,
	m.skill_level, m.starts_at, m.max_players, m.status, m.score_a, m.score_b, m.created_at,
	(SELECT COUNT(*) FROM match_players mp WHERE mp.match_id = m.id) AS player_count,
	f.city
	FROM matches m LEFT JOIN facilities f ON f.id = m.facility_id`

// MatchRepo stores matches and their rosters.
type MatchRepo struct {
	db *sql.DB
}

func NewMatchRepo(db *sql.DB) *MatchRepo { return &MatchRepo{db: db} }

// DB exposes the pool so handlers can open transactions spanning repos.
func (r *MatchRepo) DB() *sql.DB { return r.db }

func scanMatch(row interface{ Scan(...any) error }, m *model.Match) error {
	var (
		facilityID, bookingID sql.NullInt64
		desc, city            sql.NullString
		scoreA, scoreB        sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.HostID, &m.Sport, &facilityID, &bookingID, &m.Title, &desc,
		&m.SkillLevel, &m.StartsAt, &m.MaxPlayers, &m.Status, &scoreA, &scoreB, &m.CreatedAt,
		&m.PlayerCount, &city); err != nil {
		return err
	}
	if facilityID.Valid {
		v := uint64(facilityID.Int64)
		m.FacilityID = &v
	}
	if bookingID.Valid {
		v := uint64(bookingID.Int64)
		m.BookingID = &v
	}
	if desc.Valid {
		m.Description = &desc.String
	}
	if city.Valid {
		m.City = &city.String
	}
	if scoreA.Valid {
		v := int(scoreA.Int64)
		m.ScoreA = &v
	}
	if scoreB.Valid {
		v := int(scoreB.Int64)
		m.ScoreB = &v
	}
	return nil
}

// CreateTx inserts m with status OPEN.
func (r *MatchRepo) CreateTx(ctx context.Context, tx *sql.Tx, m *model.Match) error {
	const op = "repository.MatchRepo.CreateTx"
	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches (host_id, sport, facility_id, booking_id, title, description, skill_level, starts_at, max_players, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN')`,
		m.HostID, m.Sport, m.FacilityID, m.BookingID, m.Title, m.Description, m.SkillLevel, m.StartsAt.UTC(), m.MaxPlayers)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.ID = uint64(id)
	m.Status = model.MatchOpen
	return nil
}

// GetByID fetches a match with its current player count.
func (r *MatchRepo) GetByID(ctx context.Context, id uint64) (model.Match, error) {
	var m model.Match
	err := scanMatch(r.db.QueryRowContext(ctx, matchSelect+" WHERE m.id = ?", id), &m)
	return m, wrap("repository.MatchRepo.GetByID", err)
}

// GetForUpdateTx row-locks a match and returns it with its player count.
func (r *MatchRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Match, error) {
	const op = "repository.MatchRepo.GetForUpdateTx"
	var lockedID uint64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM matches WHERE id = ? FOR UPDATE", id).Scan(&lockedID); err != nil {
		return model.Match{}, wrap(op, err)
	}
	var m model.Match
	err := scanMatch(tx.QueryRowContext(ctx, matchSelect+" WHERE m.id = ?", id), &m)
	return m, wrap(op, err)
}

// Players lists the roster in join order.
func (r *MatchRepo) Players(ctx context.Context, matchID uint64) ([]model.MatchPlayer, error) {
	const op = "repository.MatchRepo.Players"
	rows, err := r.db.QueryContext(ctx,
		`SELECT mp.user_id, u.display_name, mp.team, mp.joined_at
		 FROM match_players mp JOIN users u ON u.id = mp.user_id
		 WHERE mp.match_id = ? ORDER BY mp.joined_at, mp.user_id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.MatchPlayer{}
	for rows.Next() {
		var p model.MatchPlayer
		var team sql.NullString
		if err := rows.Scan(&p.UserID, &p.DisplayName, &team, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if team.Valid {
			p.Team = &team.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PlayerIDsTx lists the user ids on a match roster.
func (r *MatchRepo) PlayerIDsTx(ctx context.Context, tx *sql.Tx, matchID uint64) ([]uint64, error) {
	const op = "repository.MatchRepo.PlayerIDsTx"
	rows, err := tx.QueryContext(ctx, "SELECT user_id FROM match_players WHERE match_id = ? ORDER BY user_id", matchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsPlayerTx reports whether userID is on the roster.
func (r *MatchRepo) IsPlayerTx(ctx context.Context, tx *sql.Tx, matchID, userID uint64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM match_players WHERE match_id = ? AND user_id = ?", matchID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository.MatchRepo.IsPlayerTx: %w", err)
	}
	return true, nil
}

// AddPlayerTx puts userID on the roster.
func (r *MatchRepo) AddPlayerTx(ctx context.Context, tx *sql.Tx, matchID, userID uint64) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO match_players (match_id, user_id) VALUES (?, ?)", matchID, userID)
	if err != nil {
		return fmt.Errorf("repository.MatchRepo.AddPlayerTx: %w", err)
	}
	return nil
}

// RemovePlayerTx takes userID off the roster.
func (r *MatchRepo) RemovePlayerTx(ctx context.Context, tx *sql.Tx, matchID, userID uint64) error {
	const op = "repository.MatchRepo.RemovePlayerTx"
	res, err := tx.ExecContext(ctx, "DELETE FROM match_players WHERE match_id = ? AND user_id = ?", matchID, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affected(op, res)
}

// SetStatusTx updates the match status.
func (r *MatchRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status string) error {
	_, err := tx.ExecContext(ctx, "UPDATE matches SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("repository.MatchRepo.SetStatusTx: %w", err)
	}
	return nil
}

// SetTeamTx records which side a player was on.
func (r *MatchRepo) SetTeamTx(ctx context.Context, tx *sql.Tx, matchID, userID uint64, team string) error {
	_, err := tx.ExecContext(ctx, "UPDATE match_players SET team = ? WHERE match_id = ? AND user_id = ?", team, matchID, userID)
	if err != nil {
		return fmt.Errorf("repository.MatchRepo.SetTeamTx: %w", err)
	}
	return nil
}

// CompleteTx stores the final score and marks the match COMPLETED.
func (r *MatchRepo) CompleteTx(ctx context.Context, tx *sql.Tx, id uint64, scoreA, scoreB int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE matches SET status = 'COMPLETED', score_a = ?, score_b = ? WHERE id = ?", scoreA, scoreB, id)
	if err != nil {
		return fmt.Errorf("repository.MatchRepo.CompleteTx: %w", err)
	}
	return nil
}

// MatchSearchQuery filters the open match listing.  Date is a UTC calendar
// day; zero disables the filter.
type MatchSearchQuery struct {
	Sport      string
	SkillLevel string
	City       string
	Date       time.Time
	HasSpace   bool
	Page       int
	PageSize   int
}

// ListOpen returns upcoming OPEN or FULL matches, soonest first.
func (r *MatchRepo) ListOpen(ctx context.Context, q MatchSearchQuery) ([]model.Match, int64, error) {
	const op = "repository.MatchRepo.ListOpen"
	where := []string{"m.starts_at > UTC_TIMESTAMP()"}
	args := []any{}
	if q.HasSpace {
		where = append(where, "m.status = 'OPEN'")
	} else {
		where = append(where, "m.status IN ('OPEN','FULL')")
	}
	if q.Sport != "" {
		where = append(where, "m.sport = ?")
		args = append(args, strings.ToLower(q.Sport))
	}
	if q.SkillLevel != "" {
		where = append(where, "m.skill_level = ?")
		args = append(args, strings.ToUpper(q.SkillLevel))
	}
	if q.City != "" {
		where = append(where, "LOWER(f.city) = ?")
		args = append(args, strings.ToLower(q.City))
	}
	if !q.Date.IsZero() {
		day := time.Date(q.Date.Year(), q.Date.Month(), q.Date.Day(), 0, 0, 0, 0, time.UTC)
		where = append(where, "m.starts_at >= ? AND m.starts_at < ?")
		args = append(args, day, day.AddDate(0, 0, 1))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM matches m LEFT JOIN facilities f ON f.id = m.facility_id WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	argsData := append(append([]any{}, args...), q.PageSize, (q.Page-1)*q.PageSize)
	rows, err := r.db.QueryContext(ctx,
		matchSelect+" WHERE "+cond+" ORDER BY m.starts_at ASC, m.id ASC LIMIT ? OFFSET ?", argsData...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := make([]model.Match, 0, q.PageSize)
	for rows.Next() {
		var m model.Match
		if err := scanMatch(rows, &m); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return out, total, nil
}
