package middleware

// identity.go holds the context keys set by JWTAuth and small accessors used
// by handlers and the other middleware in this package.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated user's id.  ok is false on routes that
// do not run JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id > 0
}

// Role returns the role claim of the authenticated user, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// subject is the identity used in rate-limit keys: the user id when
// authenticated, "anon" otherwise.
func subject(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
