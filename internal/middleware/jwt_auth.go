package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mansoorceksport/storefront/internal/domain"
)

// Context keys for storing request identity
const (
	UserIDKey    = "userID"
	EmailKey     = "email"
	SessionIDKey = "sessionID"
)

// VerifyToken validates the bearer JWT issued by the account service and stores its claims
func VerifyToken(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c, "missing authorization token")
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.ParseWithClaims(tokenString, &domain.StoreClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "invalid signing method")
			}
			return []byte(jwtSecret), nil
		})
		if err != nil {
			return unauthorized(c, "invalid or expired token")
		}

		claims, ok := token.Claims.(*domain.StoreClaims)
		if !ok || !token.Valid || claims.UserID == "" {
			return unauthorized(c, "invalid token claims")
		}

		c.Locals(UserIDKey, claims.UserID)
		c.Locals(EmailKey, claims.Email)

		return c.Next()
	}
}

// UserID returns the authenticated user id, or "" for anonymous requests
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserIDKey).(string)
	return id
}

// Email returns the authenticated user's email, if the token carried one
func Email(c *fiber.Ctx) string {
	email, _ := c.Locals(EmailKey).(string)
	return email
}

func unauthorized(c *fiber.Ctx, reason string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"reason":  reason,
	})
}
