package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/repository"
)

// ProfileHandler serves the caller's profile and public player stats.
type ProfileHandler struct {
	Users *repository.UserRepo
	Stats *repository.StatsRepo
	Log   *slog.Logger
}

func NewProfileHandler(u *repository.UserRepo, s *repository.StatsRepo, log *slog.Logger) *ProfileHandler {
	return &ProfileHandler{Users: u, Stats: s, Log: log}
}

type profileReq struct {
	DisplayName string `json:"display_name" validate:"required,min=2,max=80"`
}

// GetProfile handles GET /v1/me/profile.
func (h *ProfileHandler) GetProfile(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return respondErr(c, h.Log, "handler.Profile.Get", err)
	}
	stats, err := h.Stats.ByUser(ctx, uid)
	if err != nil {
		return respondErr(c, h.Log, "handler.Profile.Get", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": u, "stats": stats})
}

// UpdateProfile handles PATCH /v1/me/profile.
func (h *ProfileHandler) UpdateProfile(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req profileReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx := c.Request().Context()
	if err := h.Users.UpdateDisplayName(ctx, uid, req.DisplayName); err != nil {
		return respondErr(c, h.Log, "handler.Profile.Update", err)
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return respondErr(c, h.Log, "handler.Profile.Update", err)
	}
	return c.JSON(http.StatusOK, u)
}

// UserStats handles GET /v1/users/:id/stats.
func (h *ProfileHandler) UserStats(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	ctx := c.Request().Context()
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return respondErr(c, h.Log, "handler.Profile.UserStats", err)
	}
	stats, err := h.Stats.ByUser(ctx, id)
	if err != nil {
		return respondErr(c, h.Log, "handler.Profile.UserStats", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": u.ID, "display_name": u.DisplayName, "stats": stats})
}
