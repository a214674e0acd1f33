package model

import "time"

// Match statuses.
const (
	MatchOpen      = "OPEN"
	MatchFull      = "FULL"
	MatchCancelled = "CANCELLED"
	MatchCompleted = "COMPLETED"
)

// Skill levels a host may ask for.
const (
	SkillBeginner     = "BEGINNER"
	SkillIntermediate = "INTERMEDIATE"
	SkillAdvanced     = "ADVANCED"
	SkillAny          = "ANY"
)

// Match is an informal game a host opens for other players to join.
type Match struct {
	ID          uint64    `json:"id"`
	HostID      uint64    `json:"host_id"`
	Sport       string    `json:"sport"`
	FacilityID  *uint64   `json:"facility_id,omitempty"`
	BookingID   *uint64   `json:"booking_id,omitempty"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	SkillLevel  string    `json:"skill_level"`
	StartsAt    time.Time `json:"starts_at"`
	MaxPlayers  int       `json:"max_players"`
	Status      string    `json:"status"`
	ScoreA      *int      `json:"score_a,omitempty"`
	ScoreB      *int      `json:"score_b,omitempty"`
	PlayerCount int       `json:"player_count"`
	City        *string   `json:"city,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MatchPlayer is a row of match_players joined with the user's display name.
type MatchPlayer struct {
	UserID      uint64    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Team        *string   `json:"team,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}
