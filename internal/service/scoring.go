package service

import (
	"errors"
	"fmt"
	"sort"

	"github.com/iliyamo/sportsbook/internal/model"
)

// Points awarded per result.
const (
	PointsWin  = 3
	PointsDraw = 1
	PointsLoss = 0
)

// ErrInvalidResult wraps every rejection returned by ResultDeltas.
var ErrInvalidResult = errors.New("invalid result")

// ResultDeltas validates a match result against the roster and returns the
// stats change of every player on either team.  Teams must be non-empty,
// disjoint and drawn from roster.
func ResultDeltas(roster, teamA, teamB []uint64, scoreA, scoreB int) (map[uint64]model.StatsDelta, error) {
	if scoreA < 0 || scoreB < 0 {
		return nil, fmt.Errorf("%w: scores must not be negative", ErrInvalidResult)
	}
	if len(teamA) == 0 || len(teamB) == 0 {
		return nil, fmt.Errorf("%w: both teams need players", ErrInvalidResult)
	}
	onRoster := make(map[uint64]bool, len(roster))
	for _, id := range roster {
		onRoster[id] = true
	}

	var a, b model.StatsDelta
	a.Played, b.Played = 1, 1
	switch {
	case scoreA > scoreB:
		a.Wins, a.Points = 1, PointsWin
		b.Losses, b.Points = 1, PointsLoss
	case scoreA < scoreB:
		b.Wins, b.Points = 1, PointsWin
		a.Losses, a.Points = 1, PointsLoss
	default:
		a.Draws, a.Points = 1, PointsDraw
		b.Draws, b.Points = 1, PointsDraw
	}

	out := make(map[uint64]model.StatsDelta, len(teamA)+len(teamB))
	for _, side := range []struct {
		ids   []uint64
		delta model.StatsDelta
	}{{teamA, a}, {teamB, b}} {
		for _, id := range side.ids {
			if !onRoster[id] {
				return nil, fmt.Errorf("%w: user %d is not in this match", ErrInvalidResult, id)
			}
			if _, dup := out[id]; dup {
				return nil, fmt.Errorf("%w: user %d listed twice", ErrInvalidResult, id)
			}
			out[id] = side.delta
		}
	}
	return out, nil
}

func leaderboardLess(a, b model.LeaderboardEntry) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if a.Wins != b.Wins {
		return a.Wins > b.Wins
	}
	if a.MatchesPlayed != b.MatchesPlayed {
		return a.MatchesPlayed < b.MatchesPlayed
	}
	return a.UserID < b.UserID
}

func tied(a, b model.LeaderboardEntry) bool {
	return a.Points == b.Points && a.Wins == b.Wins && a.MatchesPlayed == b.MatchesPlayed
}

// RankLeaderboard orders entries by points desc, wins desc, matches played
// asc and user id asc, then assigns dense ranks: tied entries share a rank
// and the next distinct entry gets the following number.
func RankLeaderboard(entries []model.LeaderboardEntry) []model.LeaderboardEntry {
	sort.SliceStable(entries, func(i, j int) bool { return leaderboardLess(entries[i], entries[j]) })
	rank := 0
	for i := range entries {
		if i == 0 || !tied(entries[i-1], entries[i]) {
			rank++
		}
		entries[i].Rank = rank
	}
	return entries
}
