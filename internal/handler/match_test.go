package handler

import (
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/queue"
	"github.com/iliyamo/sportsbook/internal/repository"
)

var matchCols = []string{"id", "host_id", "sport", "facility_id", "booking_id", "title", "description",
	"skill_level", "starts_at", "max_players", "status", "score_a", "score_b", "created_at", "player_count", "city"}

// matchRows is match 3 hosted by user 5, starting at startsAt.
func matchRows(status string, players, max int, startsAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(matchCols).AddRow(3, 5, "football", nil, nil, "Sunday kickabout", nil,
		model.SkillAny, startsAt, max, status, nil, nil, testNow, players, nil)
}

func newMatchHandler(t *testing.T) (*MatchHandler, sqlmock.Sqlmock, *mockPub) {
	db, sm := newMock(t)
	pub := &mockPub{}
	h := &MatchHandler{
		Matches:    repository.NewMatchRepo(db),
		Facilities: repository.NewFacilityRepo(db),
		Bookings:   repository.NewBookingRepo(db),
		Chat:       repository.NewChatRepo(db),
		Stats:      repository.NewStatsRepo(db),
		Pub:        pub,
		Log:        testLog,
		Now:        fixedNow,
	}
	return h, sm, pub
}

func expectMatchLock(sm sqlmock.Sqlmock, rows *sqlmock.Rows) {
	sm.ExpectBegin()
	sm.ExpectQuery(regexp.QuoteMeta("SELECT id FROM matches WHERE id = ? FOR UPDATE")).
		WithArgs(uint64(3)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	sm.ExpectQuery("FROM matches m LEFT JOIN facilities f").WithArgs(uint64(3)).WillReturnRows(rows)
}

func TestMatchCreate(t *testing.T) {
	h, sm, _ := newMatchHandler(t)
	sm.ExpectBegin()
	sm.ExpectExec("INSERT INTO matches").
		WithArgs(uint64(5), "football", nil, nil, "Sunday kickabout", nil, model.SkillAny, sqlmock.AnyArg(), 10).
		WillReturnResult(sqlmock.NewResult(3, 1))
	sm.ExpectExec("INSERT INTO match_players").WithArgs(uint64(3), uint64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectExec("INSERT INTO chat_rooms").
		WithArgs(model.RoomMatch, uint64(3), nil, "Sunday kickabout", uint64(5)).
		WillReturnResult(sqlmock.NewResult(8, 1))
	sm.ExpectQuery("FROM chat_rooms r WHERE r.id").WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "match_id", "name", "created_by", "created_at"}).
			AddRow(8, model.RoomMatch, 3, "Sunday kickabout", 5, testNow))
	sm.ExpectExec("INSERT IGNORE INTO chat_members").WithArgs(uint64(8), uint64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectCommit()

	body := `{"sport":"Football","title":"Sunday kickabout","starts_at":"2030-05-05T09:00:00Z","max_players":10}`
	rec := serve(t, h.Create, http.MethodPost, "/v1/matches", body, 5, model.RolePlayer)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"OPEN"`)
	assert.Contains(t, rec.Body.String(), `"player_count":1`)
	assert.Contains(t, rec.Body.String(), `"skill_level":"ANY"`)
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestMatchCreateRejects(t *testing.T) {
	t.Run("too many players", func(t *testing.T) {
		h, _, _ := newMatchHandler(t)
		body := `{"sport":"football","title":"Big game","starts_at":"2030-05-05T09:00:00Z","max_players":31}`
		rec := serve(t, h.Create, http.MethodPost, "/v1/matches", body, 5, model.RolePlayer)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("in the past", func(t *testing.T) {
		h, sm, _ := newMatchHandler(t)
		sm.ExpectBegin()
		sm.ExpectRollback()
		body := `{"sport":"football","title":"Old game","starts_at":"2029-05-05T09:00:00Z","max_players":4}`
		rec := serve(t, h.Create, http.MethodPost, "/v1/matches", body, 5, model.RolePlayer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		require.NoError(t, sm.ExpectationsWereMet())
	})

	t.Run("someone else's booking", func(t *testing.T) {
		h, sm, _ := newMatchHandler(t)
		sm.ExpectBegin()
		sm.ExpectQuery("FROM bookings b WHERE b.id").WithArgs(uint64(41)).
			WillReturnRows(bookingRows(sampleBooking(model.BookingConfirmed)))
		sm.ExpectRollback()
		body := `{"sport":"tennis","title":"Doubles","booking_id":41,"max_players":4}`
		rec := serve(t, h.Create, http.MethodPost, "/v1/matches", body, 5, model.RolePlayer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "booking_id")
	})
}

func TestMatchJoinFillsMatch(t *testing.T) {
	h, sm, pub := newMatchHandler(t)
	expectMatchLock(sm, matchRows(model.MatchOpen, 3, 4, testNow.Add(48*time.Hour)))
	sm.ExpectQuery("SELECT 1 FROM match_players").WithArgs(uint64(3), uint64(9)).WillReturnRows(sqlmock.NewRows([]string{"1"}))
	sm.ExpectExec("INSERT INTO match_players").WithArgs(uint64(3), uint64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectExec("UPDATE matches SET status").WithArgs(model.MatchFull, uint64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectQuery("SELECT id FROM chat_rooms WHERE match_id").WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
	sm.ExpectExec("INSERT IGNORE INTO chat_members").WithArgs(uint64(8), uint64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectCommit()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev queue.Event) bool {
		return ev.Key == queue.KeyMatchJoined && ev.Audience()[0] == 5 && ev.Attrs[queue.AttrTitle] == "Sunday kickabout"
	})).Return(nil).Once()

	rec := serve(t, h.Join, http.MethodPost, "/v1/matches/3/join", "", 9, model.RolePlayer, "id", "3")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"FULL"`)
	assert.Contains(t, rec.Body.String(), `"player_count":4`)
	require.NoError(t, sm.ExpectationsWereMet())
	pub.AssertExpectations(t)
}

func TestMatchJoinConflicts(t *testing.T) {
	cases := []struct {
		name   string
		rows   *sqlmock.Rows
		joined bool
		want   string
	}{
		{"full", matchRows(model.MatchFull, 4, 4, testNow.Add(time.Hour)), false, "match is full"},
		{"cancelled", matchRows(model.MatchCancelled, 1, 4, testNow.Add(time.Hour)), false, "match is not open"},
		{"started", matchRows(model.MatchOpen, 1, 4, testNow.Add(-time.Hour)), false, "already started"},
		{"already joined", matchRows(model.MatchOpen, 2, 4, testNow.Add(time.Hour)), true, "already joined"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, sm, _ := newMatchHandler(t)
			expectMatchLock(sm, tc.rows)
			if tc.joined {
				sm.ExpectQuery("SELECT 1 FROM match_players").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
			}
			sm.ExpectRollback()

			rec := serve(t, h.Join, http.MethodPost, "/v1/matches/3/join", "", 9, model.RolePlayer, "id", "3")
			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
			require.NoError(t, sm.ExpectationsWereMet())
		})
	}
}

func TestMatchLeave(t *testing.T) {
	t.Run("host cannot leave", func(t *testing.T) {
		h, sm, _ := newMatchHandler(t)
		expectMatchLock(sm, matchRows(model.MatchOpen, 2, 4, testNow.Add(time.Hour)))
		sm.ExpectRollback()

		rec := serve(t, h.Leave, http.MethodPost, "/v1/matches/3/leave", "", 5, model.RolePlayer, "id", "3")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("full match reopens", func(t *testing.T) {
		h, sm, pub := newMatchHandler(t)
		expectMatchLock(sm, matchRows(model.MatchFull, 4, 4, testNow.Add(time.Hour)))
		sm.ExpectQuery("SELECT 1 FROM match_players").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		sm.ExpectExec("DELETE FROM match_players").WithArgs(uint64(3), uint64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
		sm.ExpectExec("UPDATE matches SET status").WithArgs(model.MatchOpen, uint64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
		sm.ExpectQuery("SELECT id FROM chat_rooms").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
		sm.ExpectExec("DELETE FROM chat_members").WithArgs(uint64(8), uint64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
		sm.ExpectCommit()
		pub.On("Publish", mock.Anything, keyIs(queue.KeyMatchLeft)).Return(nil).Once()

		rec := serve(t, h.Leave, http.MethodPost, "/v1/matches/3/leave", "", 9, model.RolePlayer, "id", "3")
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"status":"OPEN"`)
		require.NoError(t, sm.ExpectationsWereMet())
	})
}

func TestMatchCancelHostOnly(t *testing.T) {
	h, sm, _ := newMatchHandler(t)
	expectMatchLock(sm, matchRows(model.MatchOpen, 2, 4, testNow.Add(time.Hour)))
	sm.ExpectRollback()

	rec := serve(t, h.Cancel, http.MethodPost, "/v1/matches/3/cancel", "", 9, model.RolePlayer, "id", "3")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMatchResult(t *testing.T) {
	h, sm, pub := newMatchHandler(t)
	expectMatchLock(sm, matchRows(model.MatchFull, 2, 2, testNow.Add(-2*time.Hour)))
	sm.ExpectQuery("SELECT user_id FROM match_players").WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(5).AddRow(9))
	sm.ExpectExec("UPDATE match_players SET team").WithArgs("A", uint64(3), uint64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectExec("INSERT INTO user_stats").WithArgs(uint64(5), "football", 1, 1, 0, 0, 3).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectExec("UPDATE match_players SET team").WithArgs("B", uint64(3), uint64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectExec("INSERT INTO user_stats").WithArgs(uint64(9), "football", 1, 0, 1, 0, 0).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectExec("UPDATE matches SET status = 'COMPLETED'").WithArgs(3, 1, uint64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectCommit()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev queue.Event) bool {
		return ev.Key == queue.KeyMatchCompleted && len(ev.Audience()) == 1 && ev.Audience()[0] == 9
	})).Return(nil).Once()

	body := `{"team_a":[5],"team_b":[9],"score_a":3,"score_b":1}`
	rec := serve(t, h.Result, http.MethodPost, "/v1/matches/3/result", body, 5, model.RolePlayer, "id", "3")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"COMPLETED"`)
	assert.Contains(t, rec.Body.String(), `"score_a":3`)
	require.NoError(t, sm.ExpectationsWereMet())
	pub.AssertExpectations(t)
}

func TestMatchResultRejects(t *testing.T) {
	t.Run("player not in match", func(t *testing.T) {
		h, sm, _ := newMatchHandler(t)
		expectMatchLock(sm, matchRows(model.MatchFull, 2, 2, testNow.Add(-time.Hour)))
		sm.ExpectQuery("SELECT user_id FROM match_players").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(5).AddRow(9))
		sm.ExpectRollback()

		body := `{"team_a":[5],"team_b":[77],"score_a":1,"score_b":1}`
		rec := serve(t, h.Result, http.MethodPost, "/v1/matches/3/result", body, 5, model.RolePlayer, "id", "3")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "not in this match")
		require.NoError(t, sm.ExpectationsWereMet())
	})

	t.Run("not started", func(t *testing.T) {
		h, sm, _ := newMatchHandler(t)
		expectMatchLock(sm, matchRows(model.MatchOpen, 2, 4, testNow.Add(time.Hour)))
		sm.ExpectRollback()

		body := `{"team_a":[5],"team_b":[9],"score_a":1,"score_b":0}`
		rec := serve(t, h.Result, http.MethodPost, "/v1/matches/3/result", body, 5, model.RolePlayer, "id", "3")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing score", func(t *testing.T) {
		h, _, _ := newMatchHandler(t)
		body := `{"team_a":[5],"team_b":[9],"score_a":1}`
		rec := serve(t, h.Result, http.MethodPost, "/v1/matches/3/result", body, 5, model.RolePlayer, "id", "3")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestMatchListFilters(t *testing.T) {
	h, sm, _ := newMatchHandler(t)
	sm.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM matches m")).
		WithArgs("tennis", "bangkok").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	sm.ExpectQuery("m.status = 'OPEN'").
		WithArgs("tennis", "bangkok", 20, 0).
		WillReturnRows(matchRows(model.MatchOpen, 1, 4, testNow.Add(time.Hour)))

	rec := serve(t, h.List, http.MethodGet, "/v1/matches?sport=tennis&city=Bangkok&has_space=true", "", 0, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total":1`)
	require.NoError(t, sm.ExpectationsWereMet())

	rec = serve(t, h.List, http.MethodGet, "/v1/matches?date=tomorrow", "", 0, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
