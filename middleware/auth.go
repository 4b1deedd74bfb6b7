package middleware

import (
	"strings"

	"clinsched/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

const userKey = "userID"

// OptionalIdentity extracts a verified user ID from a bearer token when one
// is present. Booking flows start anonymous; after the identity-verification
// redirect the client carries a token and confirm can attribute the booking.
// Invalid tokens are treated as anonymous rather than rejected: verification
// mechanics live outside this service.
func OptionalIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.Next()
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(config.AppConfig.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.Next()
			return
		}
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(string); ok {
				c.Set(userKey, sub)
			}
		}
		c.Next()
	}
}

// UserID returns the verified user ID, or "" for anonymous sessions.
func UserID(c *gin.Context) string {
	return c.GetString(userKey)
}
