package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/queue"
	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/service"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	previewRunes        = 80
)

// ChatHandler serves chat rooms and their messages.  Only members may read
// or post.
type ChatHandler struct {
	Chat  *repository.ChatRepo
	Users *repository.UserRepo
	Pub   service.EventPublisher
	Log   *slog.Logger
}

// ListRooms handles GET /v1/chat/rooms.
func (h *ChatHandler) ListRooms(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	rooms, err := h.Chat.ListRooms(c.Request().Context(), uid)
	if err != nil {
		return respondErr(c, h.Log, "handler.Chat.ListRooms", err)
	}
	return c.JSON(http.StatusOK, rooms)
}

type createRoomReq struct {
	Kind      string   `json:"kind" validate:"required,oneof=DIRECT GROUP"`
	Name      string   `json:"name" validate:"omitempty,max=120"`
	MemberIDs []uint64 `json:"member_ids" validate:"required,min=1,max=50"`
}

// CreateRoom handles POST /v1/chat/rooms.  A DIRECT room takes exactly one
// other member and is reused when it already exists.
func (h *ChatHandler) CreateRoom(c echo.Context) error {
	const op = "handler.Chat.CreateRoom"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createRoomReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	members := []uint64{uid}
	seen := map[uint64]bool{uid: true}
	for _, id := range req.MemberIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) < 2 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a room needs at least one other member"})
	}

	ctx := c.Request().Context()
	names, err := h.Users.DisplayNames(ctx, members)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	if len(names) != len(members) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "member_ids contains unknown users"})
	}

	room := model.ChatRoom{Kind: req.Kind, Name: strings.TrimSpace(req.Name), CreatedBy: uid}
	var directKey *string
	if req.Kind == model.RoomDirect {
		if len(members) != 2 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "a direct room has exactly one other member"})
		}
		key := repository.DirectKey(members[0], members[1])
		existing, err := h.Chat.FindDirect(ctx, key)
		if err == nil {
			return c.JSON(http.StatusOK, existing)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return respondErr(c, h.Log, op, err)
		}
		directKey = &key
		if room.Name == "" {
			room.Name = names[members[0]] + " & " + names[members[1]]
		}
	} else if room.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a group room needs a name"})
	}

	err = inTx(ctx, h.Chat.DB(), func(tx *sql.Tx) error {
		if err := h.Chat.CreateRoomTx(ctx, tx, &room, directKey); err != nil {
			return err
		}
		for _, id := range members {
			if err := h.Chat.AddMemberTx(ctx, tx, room.ID, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && directKey != nil && errors.Is(err, repository.ErrConflict) {
		// lost a race with the other member creating the same room
		existing, ferr := h.Chat.FindDirect(ctx, *directKey)
		if ferr == nil {
			return c.JSON(http.StatusOK, existing)
		}
		err = ferr
	}
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	return c.JSON(http.StatusCreated, room)
}

// member loads the room and checks the caller belongs to it.  Non-members
// get 404 so room ids are not probeable.
func (h *ChatHandler) member(c echo.Context, uid uint64) (model.ChatRoom, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return model.ChatRoom{}, reject(http.StatusBadRequest, "invalid room id")
	}
	ctx := c.Request().Context()
	room, err := h.Chat.GetRoom(ctx, id)
	if err != nil {
		return model.ChatRoom{}, err
	}
	in, err := h.Chat.IsMember(ctx, id, uid)
	if err != nil {
		return model.ChatRoom{}, err
	}
	if !in {
		return model.ChatRoom{}, repository.ErrNotFound
	}
	return room, nil
}

// Messages handles GET /v1/chat/rooms/:id/messages?before_id=&after_id=&limit=.
func (h *ChatHandler) Messages(c echo.Context) error {
	const op = "handler.Chat.Messages"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	room, err := h.member(c, uid)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	p := repository.MessagePage{Limit: defaultMessageLimit}
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be a positive integer"})
		}
		p.Limit = min(n, maxMessageLimit)
	}
	for name, dst := range map[string]*uint64{"before_id": &p.BeforeID, "after_id": &p.AfterID} {
		if s := c.QueryParam(name); s != "" {
			v, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": name + " must be a message id"})
			}
			*dst = v
		}
	}
	msgs, err := h.Chat.Messages(c.Request().Context(), room.ID, p)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	return c.JSON(http.StatusOK, msgs)
}

type postMessageReq struct {
	Body string `json:"body" validate:"required,max=2000"`
}

// PostMessage handles POST /v1/chat/rooms/:id/messages.
func (h *ChatHandler) PostMessage(c echo.Context) error {
	const op = "handler.Chat.PostMessage"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req postMessageReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "body must not be blank"})
	}
	room, err := h.member(c, uid)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	ctx := c.Request().Context()
	m := model.ChatMessage{RoomID: room.ID, SenderID: uid, Body: body}
	if err := h.Chat.CreateMessage(ctx, &m); err != nil {
		return respondErr(c, h.Log, op, err)
	}

	recipients, err := h.Chat.MemberIDs(ctx, room.ID)
	if err != nil {
		h.Log.Warn("chat members lookup failed", slog.Uint64("room_id", room.ID), logger.Err(err))
	} else {
		service.PublishBestEffort(ctx, h.Pub, h.Log,
			queue.NewEvent(queue.KeyChatMessage, m.ID, uid, recipients...).
				With(queue.AttrPlayer, m.Sender).
				With(queue.AttrRoomID, strconv.FormatUint(room.ID, 10)).
				With(queue.AttrPreview, preview(body)))
	}
	return c.JSON(http.StatusCreated, m)
}

// preview truncates s to previewRunes runes.
func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	r := []rune(s)
	return string(r[:previewRunes]) + "…"
}
