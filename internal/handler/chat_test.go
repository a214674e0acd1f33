package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/queue"
	"github.com/iliyamo/sportsbook/internal/repository"
)

var roomCols = []string{"id", "kind", "match_id", "name", "created_by", "created_at"}

func newChatHandler(t *testing.T) (*ChatHandler, sqlmock.Sqlmock, *mockPub) {
	db, sm := newMock(t)
	pub := &mockPub{}
	return &ChatHandler{
		Chat:  repository.NewChatRepo(db),
		Users: repository.NewUserRepo(db),
		Pub:   pub,
		Log:   testLog,
	}, sm, pub
}

func expectRoomMember(sm sqlmock.Sqlmock, member bool) {
	sm.ExpectQuery("FROM chat_rooms r WHERE r.id").WithArgs(uint64(8)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(8, model.RoomGroup, nil, "Padel crew", 5, testNow))
	rows := sqlmock.NewRows([]string{"1"})
	if member {
		rows.AddRow(1)
	}
	sm.ExpectQuery("SELECT 1 FROM chat_members").WithArgs(uint64(8), uint64(9)).WillReturnRows(rows)
}

func TestPostMessage(t *testing.T) {
	h, sm, pub := newChatHandler(t)
	expectRoomMember(sm, true)
	sm.ExpectExec("INSERT INTO chat_messages").WithArgs(uint64(8), uint64(9), "see you at 7").
		WillReturnResult(sqlmock.NewResult(30, 1))
	sm.ExpectQuery("FROM chat_messages m JOIN users u").WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "room_id", "sender_id", "display_name", "body", "created_at"}).
			AddRow(30, 8, 9, "Bob", "see you at 7", testNow))
	sm.ExpectQuery("SELECT user_id FROM chat_members").WithArgs(uint64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(5).AddRow(9))
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev queue.Event) bool {
		return ev.Key == queue.KeyChatMessage && ev.Attrs[queue.AttrPlayer] == "Bob" &&
			ev.Attrs[queue.AttrRoomID] == "8" && len(ev.Audience()) == 1
	})).Return(nil).Once()

	rec := serve(t, h.PostMessage, http.MethodPost, "/v1/chat/rooms/8/messages", `{"body":"  see you at 7 "}`, 9, model.RolePlayer, "id", "8")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"sender":"Bob"`)
	require.NoError(t, sm.ExpectationsWereMet())
	pub.AssertExpectations(t)
}

func TestPostMessageRejects(t *testing.T) {
	t.Run("not a member", func(t *testing.T) {
		h, sm, _ := newChatHandler(t)
		expectRoomMember(sm, false)
		rec := serve(t, h.PostMessage, http.MethodPost, "/v1/chat/rooms/8/messages", `{"body":"hi"}`, 9, model.RolePlayer, "id", "8")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		require.NoError(t, sm.ExpectationsWereMet())
	})

	t.Run("too long", func(t *testing.T) {
		h, _, _ := newChatHandler(t)
		body := `{"body":"` + strings.Repeat("a", 2001) + `"}`
		rec := serve(t, h.PostMessage, http.MethodPost, "/v1/chat/rooms/8/messages", body, 9, model.RolePlayer, "id", "8")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("blank", func(t *testing.T) {
		h, _, _ := newChatHandler(t)
		rec := serve(t, h.PostMessage, http.MethodPost, "/v1/chat/rooms/8/messages", `{"body":"   "}`, 9, model.RolePlayer, "id", "8")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMessagesPaging(t *testing.T) {
	h, sm, _ := newChatHandler(t)
	expectRoomMember(sm, true)
	sm.ExpectQuery("AND m.id > \\? ORDER BY m.id ASC").WithArgs(uint64(8), uint64(12), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "room_id", "sender_id", "display_name", "body", "created_at"}).
			AddRow(13, 8, 5, "Ann", "hello", testNow))

	rec := serve(t, h.Messages, http.MethodGet, "/v1/chat/rooms/8/messages?after_id=12&limit=10", "", 9, model.RolePlayer, "id", "8")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"body":"hello"`)
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestCreateDirectRoomReusesExisting(t *testing.T) {
	h, sm, _ := newChatHandler(t)
	sm.ExpectQuery("SELECT id, display_name FROM users").WithArgs(uint64(9), uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name"}).AddRow(5, "Ann").AddRow(9, "Bob"))
	sm.ExpectQuery("WHERE r.direct_key = ?").WithArgs("5:9").
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(4, model.RoomDirect, nil, "Ann & Bob", 5, testNow))

	rec := serve(t, h.CreateRoom, http.MethodPost, "/v1/chat/rooms", `{"kind":"DIRECT","member_ids":[5]}`, 9, model.RolePlayer)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"id":4`)
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestCreateDirectRoomConcurrentInsert(t *testing.T) {
	h, sm, _ := newChatHandler(t)
	sm.ExpectQuery("SELECT id, display_name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name"}).AddRow(5, "Ann").AddRow(9, "Bob"))
	sm.ExpectQuery("WHERE r.direct_key = ?").WithArgs("5:9").WillReturnRows(sqlmock.NewRows(roomCols))
	sm.ExpectBegin()
	sm.ExpectExec("INSERT INTO chat_rooms").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '5:9' for key 'uq_chat_rooms_direct'"})
	sm.ExpectRollback()
	sm.ExpectQuery("WHERE r.direct_key = ?").WithArgs("5:9").
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(4, model.RoomDirect, nil, "Ann & Bob", 5, testNow))

	rec := serve(t, h.CreateRoom, http.MethodPost, "/v1/chat/rooms", `{"kind":"DIRECT","member_ids":[5]}`, 9, model.RolePlayer)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"id":4`)
	require.NoError(t, sm.ExpectationsWereMet())
}

func TestCreateRoomRejects(t *testing.T) {
	t.Run("direct with two others", func(t *testing.T) {
		h, sm, _ := newChatHandler(t)
		sm.ExpectQuery("FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "display_name"}).AddRow(5, "Ann").AddRow(9, "Bob").AddRow(11, "Cy"))
		rec := serve(t, h.CreateRoom, http.MethodPost, "/v1/chat/rooms", `{"kind":"DIRECT","member_ids":[5,11]}`, 9, model.RolePlayer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown member", func(t *testing.T) {
		h, sm, _ := newChatHandler(t)
		sm.ExpectQuery("FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "display_name"}).AddRow(9, "Bob"))
		rec := serve(t, h.CreateRoom, http.MethodPost, "/v1/chat/rooms", `{"kind":"GROUP","name":"x","member_ids":[404]}`, 9, model.RolePlayer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown users")
	})

	t.Run("only self", func(t *testing.T) {
		h, _, _ := newChatHandler(t)
		rec := serve(t, h.CreateRoom, http.MethodPost, "/v1/chat/rooms", `{"kind":"GROUP","name":"x","member_ids":[9]}`, 9, model.RolePlayer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := strings.Repeat("ก", 100)
	p := preview(long)
	assert.Equal(t, previewRunes+1, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "…"))
}
