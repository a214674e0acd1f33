package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/service"
)

const (
	defaultLeaderboardLimit = 20
	maxLeaderboardLimit     = 100
)

// LeaderboardHandler serves GET /v1/leaderboard.  Responses are cached by
// the response cache middleware and dropped when a match result is saved.
type LeaderboardHandler struct {
	Stats *repository.StatsRepo
	Log   *slog.Logger
}

func NewLeaderboardHandler(s *repository.StatsRepo, log *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{Stats: s, Log: log}
}

func (h *LeaderboardHandler) Get(c echo.Context) error {
	sport := strings.ToLower(strings.TrimSpace(c.QueryParam("sport")))
	if sport == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sport is required"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	rows, err := h.Stats.Top(c.Request().Context(), sport, limit)
	if err != nil {
		return respondErr(c, h.Log, "handler.Leaderboard.Get", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sport": sport, "entries": service.RankLeaderboard(rows)})
}
