package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/middleware"
	"github.com/iliyamo/sportsbook/internal/model"
	"github.com/iliyamo/sportsbook/internal/payment"
	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/service"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	dbTimeout       = 5 * time.Second
)

// getUserID returns the id stored by the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
	if id, ok := middleware.UserID(c); ok {
		return id, nil
	}
	return 0, errors.New("invalid user_id in context")
}

func isAdmin(c echo.Context) bool { return middleware.Role(c) == model.RoleAdmin }

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// pageParams reads page and page_size, defaulting to 1 and 20 and capping
// the size at 100.
func pageParams(c echo.Context) (page, size int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(c.QueryParam("page_size"))
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func paged(items any, total int64, page, size int) echo.Map {
	return echo.Map{"items": items, "total": total, "page": page, "page_size": size}
}

// inTx runs fn in a transaction that is committed only when fn succeeds.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// httpError lets code running inside a transaction pick the response.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func reject(status int, msg string) error { return &httpError{status: status, msg: msg} }

// respondErr maps err to a JSON error response.  Unexpected errors are
// logged with op and the request id and reported as 500.
func respondErr(c echo.Context, log *slog.Logger, op string, err error) error {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return c.JSON(he.status, echo.Map{"error": he.msg})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrOverlap):
		return c.JSON(http.StatusConflict, echo.Map{"error": repository.ErrOverlap.Error()})
	case errors.Is(err, repository.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": repository.ErrEmailExists.Error()})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict with current state"})
	case errors.Is(err, repository.ErrNoChange):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": repository.ErrNoChange.Error()})
	case errors.Is(err, service.ErrInvalidSlot), errors.Is(err, service.ErrInvalidResult):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidFacility):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, payment.ErrDisabled):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": payment.ErrDisabled.Error()})
	case errors.Is(err, payment.ErrProvider):
		log.Error("payment provider failed", slog.String("op", op), requestID(c), logger.Err(err))
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment provider unavailable"})
	}
	log.Error("request failed", slog.String("op", op), requestID(c), logger.Err(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func requestID(c echo.Context) slog.Attr {
	id := c.Response().Header().Get(echo.HeaderXRequestID)
	if id == "" {
		id = c.Request().Header.Get(echo.HeaderXRequestID)
	}
	return slog.String("request_id", id)
}

// bind decodes and validates the request body into req.  On failure it has
// already written the response and returns false.
func bind(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusUnprocessableEntity, validationBody(err))
	}
	return true, nil
}
