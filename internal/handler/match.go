package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/middleware"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/queue"
	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/service"
)

// MatchHandler serves matchmaking: hosting, listing, joining and scoring
// informal games.
type MatchHandler struct {
	Matches    *repository.MatchRepo
	Facilities *repository.FacilityRepo
	Bookings   *repository.BookingRepo
	Chat       *repository.ChatRepo
	Stats      *repository.StatsRepo
	Users      *repository.UserRepo
	Cache      *middleware.CacheInvalidator
	Pub        service.EventPublisher
	Log        *slog.Logger
	Now        func() time.Time
}

func (h *MatchHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type createMatchReq struct {
	Sport       string     `json:"sport" validate:"required,max=32"`
	Title       string     `json:"title" validate:"required,min=3,max=120"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	SkillLevel  string     `json:"skill_level" validate:"omitempty,oneof=BEGINNER INTERMEDIATE ADVANCED ANY"`
	StartsAt    *time.Time `json:"starts_at"`
	MaxPlayers  int        `json:"max_players" validate:"required,min=2,max=30"`
	FacilityID  *uint64    `json:"facility_id"`
	BookingID   *uint64    `json:"booking_id"`
}

// Create handles POST /v1/matches.  The host joins automatically and a
// MATCH chat room is opened for the roster.
func (h *MatchHandler) Create(c echo.Context) error {
	const op = "handler.Match.Create"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createMatchReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	m := model.Match{
		HostID:      uid,
		Sport:       strings.ToLower(strings.TrimSpace(req.Sport)),
		FacilityID:  req.FacilityID,
		BookingID:   req.BookingID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		SkillLevel:  req.SkillLevel,
		MaxPlayers:  req.MaxPlayers,
	}
	if m.SkillLevel == "" {
		m.SkillLevel = model.SkillAny
	}
	if req.StartsAt != nil {
		m.StartsAt = req.StartsAt.UTC()
	}

	ctx := c.Request().Context()
	err = inTx(ctx, h.Matches.DB(), func(tx *sql.Tx) error {
		switch {
		case req.BookingID != nil:
			b, err := h.Bookings.GetForUpdateTx(ctx, tx, *req.BookingID)
			if err != nil || b.UserID != uid || b.Status != model.BookingConfirmed {
				return reject(http.StatusBadRequest, "booking_id must be one of your confirmed bookings")
			}
			fid := b.FacilityID
			m.FacilityID = &fid
			if m.StartsAt.IsZero() {
				m.StartsAt = b.StartsAt
			}
		case req.FacilityID != nil:
			f, err := h.Facilities.GetByID(ctx, *req.FacilityID)
			if err != nil || !f.IsActive {
				return reject(http.StatusBadRequest, "facility_id does not name an active facility")
			}
		}
		if m.StartsAt.IsZero() {
			return reject(http.StatusBadRequest, "starts_at is required")
		}
		if !m.StartsAt.After(h.now()) {
			return reject(http.StatusBadRequest, "starts_at must be in the future")
		}
		if err := h.Matches.CreateTx(ctx, tx, &m); err != nil {
			return err
		}
		if err := h.Matches.AddPlayerTx(ctx, tx, m.ID, uid); err != nil {
			return err
		}
		matchID := m.ID
		room := model.ChatRoom{Kind: model.RoomMatch, MatchID: &matchID, Name: m.Title, CreatedBy: uid}
		if err := h.Chat.CreateRoomTx(ctx, tx, &room, nil); err != nil {
			return err
		}
		return h.Chat.AddMemberTx(ctx, tx, room.ID, uid)
	})
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	m.PlayerCount = 1
	return c.JSON(http.StatusCreated, m)
}

// List handles GET /v1/matches.  Only upcoming OPEN or FULL matches are
// listed, soonest first; has_space=true drops FULL ones.
func (h *MatchHandler) List(c echo.Context) error {
	page, size := pageParams(c)
	q := repository.MatchSearchQuery{
		Sport:      strings.TrimSpace(c.QueryParam("sport")),
		SkillLevel: strings.TrimSpace(c.QueryParam("skill_level")),
		City:       strings.TrimSpace(c.QueryParam("city")),
		Page:       page,
		PageSize:   size,
	}
	if s := c.QueryParam("date"); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
		}
		q.Date = d
	}
	if s := c.QueryParam("has_space"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "has_space must be a boolean"})
		}
		q.HasSpace = v
	}
	items, total, err := h.Matches.ListOpen(c.Request().Context(), q)
	if err != nil {
		return respondErr(c, h.Log, "handler.Match.List", err)
	}
	return c.JSON(http.StatusOK, paged(items, total, page, size))
}

// Get handles GET /v1/matches/:id.
func (h *MatchHandler) Get(c echo.Context) error {
	const op = "handler.Match.Get"
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
	}
	ctx := c.Request().Context()
	m, err := h.Matches.GetByID(ctx, id)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	players, err := h.Matches.Players(ctx, id)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"match": m, "players": players})
}

// Join handles POST /v1/matches/:id/join.  The match becomes FULL when the
// joiner takes the last place.
func (h *MatchHandler) Join(c echo.Context) error {
	const op = "handler.Match.Join"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
	}
	ctx := c.Request().Context()
	var m model.Match
	err = inTx(ctx, h.Matches.DB(), func(tx *sql.Tx) error {
		var err error
		if m, err = h.Matches.GetForUpdateTx(ctx, tx, id); err != nil {
			return err
		}
		switch {
		case m.Status == model.MatchFull || m.PlayerCount >= m.MaxPlayers:
			return reject(http.StatusConflict, "match is full")
		case m.Status != model.MatchOpen:
			return reject(http.StatusConflict, "match is not open")
		case !m.StartsAt.After(h.now()):
			return reject(http.StatusConflict, "match has already started")
		}
		joined, err := h.Matches.IsPlayerTx(ctx, tx, id, uid)
		if err != nil {
			return err
		}
		if joined {
			return reject(http.StatusConflict, "already joined")
		}
		if err := h.Matches.AddPlayerTx(ctx, tx, id, uid); err != nil {
			return err
		}
		m.PlayerCount++
		if m.PlayerCount >= m.MaxPlayers {
			if err := h.Matches.SetStatusTx(ctx, tx, id, model.MatchFull); err != nil {
				return err
			}
			m.Status = model.MatchFull
		}
		return h.joinRoomTx(ctx, tx, id, uid, true)
	})
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	service.PublishBestEffort(ctx, h.Pub, h.Log,
		queue.NewEvent(queue.KeyMatchJoined, m.ID, uid, m.HostID).
			With(queue.AttrTitle, m.Title).
			With(queue.AttrPlayer, h.displayName(ctx, uid)))
	return c.JSON(http.StatusOK, m)
}

// Leave handles POST /v1/matches/:id/leave.  The host cannot leave; a FULL
// match reopens.
func (h *MatchHandler) Leave(c echo.Context) error {
	const op = "handler.Match.Leave"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
	}
	ctx := c.Request().Context()
	var m model.Match
	err = inTx(ctx, h.Matches.DB(), func(tx *sql.Tx) error {
		var err error
		if m, err = h.Matches.GetForUpdateTx(ctx, tx, id); err != nil {
			return err
		}
		if m.HostID == uid {
			return reject(http.StatusConflict, "the host cannot leave, cancel the match instead")
		}
		if m.Status != model.MatchOpen && m.Status != model.MatchFull {
			return reject(http.StatusConflict, "match is not open")
		}
		joined, err := h.Matches.IsPlayerTx(ctx, tx, id, uid)
		if err != nil {
			return err
		}
		if !joined {
			return reject(http.StatusConflict, "not a player in this match")
		}
		if err := h.Matches.RemovePlayerTx(ctx, tx, id, uid); err != nil {
			return err
		}
		m.PlayerCount--
		if m.Status == model.MatchFull {
			if err := h.Matches.SetStatusTx(ctx, tx, id, model.MatchOpen); err != nil {
				return err
			}
			m.Status = model.MatchOpen
		}
		return h.joinRoomTx(ctx, tx, id, uid, false)
	})
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	service.PublishBestEffort(ctx, h.Pub, h.Log,
		queue.NewEvent(queue.KeyMatchLeft, m.ID, uid, m.HostID).
			With(queue.AttrTitle, m.Title).
			With(queue.AttrPlayer, h.displayName(ctx, uid)))
	return c.JSON(http.StatusOK, m)
}

// Cancel handles POST /v1/matches/:id/cancel (host only).
func (h *MatchHandler) Cancel(c echo.Context) error {
	const op = "handler.Match.Cancel"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
	}
	ctx := c.Request().Context()
	var (
		m      model.Match
		roster []uint64
	)
	err = inTx(ctx, h.Matches.DB(), func(tx *sql.Tx) error {
		var err error
		if m, err = h.Matches.GetForUpdateTx(ctx, tx, id); err != nil {
			return err
		}
		if m.HostID != uid {
			return repository.ErrForbidden
		}
		if m.Status != model.MatchOpen && m.Status != model.MatchFull {
			return reject(http.StatusConflict, "match is not open")
		}
		if roster, err = h.Matches.PlayerIDsTx(ctx, tx, id); err != nil {
			return err
		}
		m.Status = model.MatchCancelled
		return h.Matches.SetStatusTx(ctx, tx, id, model.MatchCancelled)
	})
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	service.PublishBestEffort(ctx, h.Pub, h.Log,
		queue.NewEvent(queue.KeyMatchCancelled, m.ID, uid, roster...).With(queue.AttrTitle, m.Title))
	return c.JSON(http.StatusOK, m)
}

type matchResultReq struct {
	TeamA  []uint64 `json:"team_a" validate:"required,min=1"`
	TeamB  []uint64 `json:"team_b" validate:"required,min=1"`
	ScoreA *int     `json:"score_a" validate:"required,min=0"`
	ScoreB *int     `json:"score_b" validate:"required,min=0"`
}

// Result handles POST /v1/matches/:id/result.  Only the host may record
// it, once, after the match started.  Every listed player's stats for the
// match sport are updated in the same transaction.
func (h *MatchHandler) Result(c echo.Context) error {
	const op = "handler.Match.Result"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
	}
	var req matchResultReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx := c.Request().Context()
	var (
		m      model.Match
		roster []uint64
	)
	err = inTx(ctx, h.Matches.DB(), func(tx *sql.Tx) error {
		var err error
		if m, err = h.Matches.GetForUpdateTx(ctx, tx, id); err != nil {
			return err
		}
		if m.HostID != uid {
			return repository.ErrForbidden
		}
		if m.Status != model.MatchOpen && m.Status != model.MatchFull {
			return reject(http.StatusConflict, "match is not open")
		}
		if m.StartsAt.After(h.now()) {
			return reject(http.StatusConflict, "match has not started yet")
		}
		if roster, err = h.Matches.PlayerIDsTx(ctx, tx, id); err != nil {
			return err
		}
		deltas, err := service.ResultDeltas(roster, req.TeamA, req.TeamB, *req.ScoreA, *req.ScoreB)
		if err != nil {
			return err
		}
		for _, side := range []struct {
			team string
			ids  []uint64
		}{{"A", req.TeamA}, {"B", req.TeamB}} {
			for _, pid := range side.ids {
				if err := h.Matches.SetTeamTx(ctx, tx, id, pid, side.team); err != nil {
					return err
				}
				if err := h.Stats.ApplyTx(ctx, tx, pid, m.Sport, deltas[pid]); err != nil {
					return err
				}
			}
		}
		if err := h.Matches.CompleteTx(ctx, tx, id, *req.ScoreA, *req.ScoreB); err != nil {
			return err
		}
		m.Status, m.ScoreA, m.ScoreB = model.MatchCompleted, req.ScoreA, req.ScoreB
		return nil
	})
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	if err := h.Cache.Invalidate(context.WithoutCancel(ctx), "leaderboard"); err != nil {
		h.Log.Warn("leaderboard cache invalidation failed", logger.Err(err))
	}
	service.PublishBestEffort(ctx, h.Pub, h.Log,
		queue.NewEvent(queue.KeyMatchCompleted, m.ID, uid, roster...).With(queue.AttrTitle, m.Title))
	return c.JSON(http.StatusOK, m)
}

// joinRoomTx adds or removes uid from the match chat room.
func (h *MatchHandler) joinRoomTx(ctx context.Context, tx *sql.Tx, matchID, uid uint64, add bool) error {
	roomID, err := h.Chat.RoomIDForMatchTx(ctx, tx, matchID)
	if err != nil {
		return err
	}
	if add {
		return h.Chat.AddMemberTx(ctx, tx, roomID, uid)
	}
	return h.Chat.RemoveMemberTx(ctx, tx, roomID, uid)
}

func (h *MatchHandler) displayName(ctx context.Context, id uint64) string {
	return displayName(ctx, h.Users, h.Log, id)
}

// displayName resolves a user's display name for notifications, falling
// back to a neutral label.
func displayName(ctx context.Context, users *repository.UserRepo, log *slog.Logger, id uint64) string {
	if users == nil {
		return "A player"
	}
	u, err := users.GetByID(ctx, id)
	if err != nil {
		log.Warn("display name lookup failed", slog.Uint64("user_id", id), logger.Err(err))
		return "A player"
	}
	return u.DisplayName
}
