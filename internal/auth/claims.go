// Package auth verifies the bearer tokens issued by the identity service.
// The verified user id is the owner id every domain operation runs under.
package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const ownerKey = "user_id"

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for userID. The identity service signs
// with the same shared secret.
func SignToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// OwnerID returns the verified user id stored by JWTMiddleware.
func OwnerID(c *fiber.Ctx) string {
	id, _ := c.Locals(ownerKey).(string)
	return id
}
