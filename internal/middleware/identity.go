package middleware

// identity.go holds the accessors for the caller identity that JWTAuth
// stores on the Echo context.

import "github.com/labstack/echo/v4"

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated user id, or false on an anonymous
// request.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the authenticated role, or "" on an anonymous request.
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}
