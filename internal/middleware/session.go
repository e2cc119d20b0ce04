package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"
)

// SessionCookie is the name of the browsing session cookie
const SessionCookie = "sessionid"

// Session makes sure every request carries a browsing session id. Unknown or malformed
// cookies are replaced with a fresh ULID.
func Session(ttl time.Duration, secure bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Cookies(SessionCookie)
		if _, err := ulid.ParseStrict(sessionID); err != nil {
			sessionID = ulid.Make().String()
		}

		// Refresh on every request so the cookie lives as long as the cart
		c.Cookie(&fiber.Cookie{
			Name:     SessionCookie,
			Value:    sessionID,
			Path:     "/",
			Expires:  time.Now().Add(ttl),
			HTTPOnly: true,
			Secure:   secure,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
		c.Locals(SessionIDKey, sessionID)

		return c.Next()
	}
}

// SessionID returns the browsing session id set by Session
func SessionID(c *fiber.Ctx) string {
	id, _ := c.Locals(SessionIDKey).(string)
	return id
}
