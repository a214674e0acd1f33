package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iliyamo/sportsbook/internal/model"
)

// StatsRepo maintains per-sport player statistics.
type StatsRepo struct {
	db *sql.DB
}

func NewStatsRepo(db *sql.DB) *StatsRepo { return &StatsRepo{db: db} }

// ApplyTx adds d to the (userID, sport) row, creating it on first use.
func (r *StatsRepo) ApplyTx(ctx context.Context, tx *sql.Tx, userID uint64, sport string, d model.StatsDelta) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, sport, matches_played, wins, losses, draws, points)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   matches_played = matches_played + VALUES(matches_played),
		   wins = wins + VALUES(wins),
		   losses = losses + VALUES(losses),
		   draws = draws + VALUES(draws),
		   points = points + VALUES(points)`,
		userID, strings.ToLower(sport), d.Played, d.Wins, d.Losses, d.Draws, d.Points)
	if err != nil {
		return fmt.Errorf("repository.StatsRepo.ApplyTx: %w", err)
	}
	return nil
}

// ByUser returns every sport row of a user ordered by sport.
func (r *StatsRepo) ByUser(ctx context.Context, userID uint64) ([]model.UserStats, error) {
	const op = "repository.StatsRepo.ByUser"
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, sport, matches_played, wins, losses, draws, points, updated_at
		 FROM user_stats WHERE user_id = ? ORDER BY sport`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.UserStats{}
	for rows.Next() {
		var s model.UserStats
		if err := rows.Scan(&s.UserID, &s.Sport, &s.MatchesPlayed, &s.Wins, &s.Losses, &s.Draws, &s.Points, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Top returns the best limit rows for a sport in leaderboard order.  Ranks
// are left zero for the caller to assign.
func (r *StatsRepo) Top(ctx context.Context, sport string, limit int) ([]model.LeaderboardEntry, error) {
	const op = "repository.StatsRepo.Top"
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.user_id, u.display_name, s.sport, s.matches_played, s.wins, s.losses, s.draws, s.points, s.updated_at
		 FROM user_stats s JOIN users u ON u.id = s.user_id
		 WHERE s.sport = ? AND u.is_active = 1
		 ORDER BY s.points DESC, s.wins DESC, s.matches_played ASC, s.user_id ASC
		 LIMIT ?`, strings.ToLower(sport), limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.LeaderboardEntry{}
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.Sport, &e.MatchesPlayed, &e.Wins, &e.Losses, &e.Draws, &e.Points, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
