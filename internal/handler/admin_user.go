package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/repository"
)

// AdminUserHandler lets admins list users and change roles or suspend
// accounts.
type AdminUserHandler struct {
	Users  *repository.UserRepo
	Tokens *repository.TokenRepo
	Log    *slog.Logger
}

// List handles GET /v1/admin/users?role=&page=&page_size=.
func (h *AdminUserHandler) List(c echo.Context) error {
	role := strings.ToUpper(strings.TrimSpace(c.QueryParam("role")))
	if role != "" && !model.ValidRole(role) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown role"})
	}
	page, size := pageParams(c)
	items, total, err := h.Users.List(c.Request().Context(), role, page, size)
	if err != nil {
		return respondErr(c, h.Log, "handler.AdminUser.List", err)
	}
	return c.JSON(http.StatusOK, paged(items, total, page, size))
}

type adminUserPatchReq struct {
	Role     *string `json:"role" validate:"omitempty,oneof=PLAYER MANAGER ADMIN"`
	IsActive *bool   `json:"is_active"`
}

// Update handles PATCH /v1/admin/users/:id.  Admins cannot demote or
// suspend themselves.  Suspending a user revokes their refresh tokens.
func (h *AdminUserHandler) Update(c echo.Context) error {
	const op = "handler.AdminUser.Update"
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	var req adminUserPatchReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if id == uid && ((req.Role != nil && *req.Role != model.RoleAdmin) || (req.IsActive != nil && !*req.IsActive)) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "admins cannot demote or suspend themselves"})
	}
	ctx := c.Request().Context()
	if err := h.Users.AdminUpdate(ctx, id, repository.UserPatch{Role: req.Role, IsActive: req.IsActive}); err != nil {
		return respondErr(c, h.Log, op, err)
	}
	if req.IsActive != nil && !*req.IsActive {
		if err := h.Tokens.RevokeAllForUser(ctx, id); err != nil {
			h.Log.Warn("revoke tokens of suspended user failed", slog.Uint64("user_id", id), logger.Err(err))
		}
	}
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return respondErr(c, h.Log, op, err)
	}
	return c.JSON(http.StatusOK, u)
}
