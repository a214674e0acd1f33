package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/repository"
)

// AccountLookup loads the current state of a user.
type AccountLookup interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// RequireActive re-reads the account behind the token so a suspension or a
// role change takes effect before the access token expires.  It must run
// after JWTAuth.
func RequireActive(users AccountLookup, log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid, ok := UserID(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			u, err := users.GetByID(c.Request().Context(), uid)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			case err != nil:
				log.Error("load account", slog.Uint64("user_id", uid), logger.Err(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			if !u.IsActive {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "account suspended"})
			}
			if u.Role != Role(c) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "role changed, sign in again"})
			}
			return next(c)
		}
	}
}
