package model

import "time"

// UserStats aggregates a player's results for one sport.
type UserStats struct {
	UserID        uint64    `json:"user_id"`
	Sport         string    `json:"sport"`
	MatchesPlayed int       `json:"matches_played"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Draws         int       `json:"draws"`
	Points        int       `json:"points"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LeaderboardEntry is a ranked UserStats row.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	DisplayName string `json:"display_name"`
	UserStats
}

// Notification is a message stored for a user by the event worker.
type Notification struct {
	ID        uint64     `json:"id"`
	UserID    uint64     `json:"user_id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// StatsDelta is the change one match result applies to a player's stats.
type StatsDelta struct {
	Played int
	Wins   int
	Losses int
	Draws  int
	Points int
}
