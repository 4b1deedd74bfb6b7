package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionHeader carries the client-generated opaque session token. Anonymous
// bookers are identified by this token alone until identity verification.
const SessionHeader = "X-Session-ID"

const sessionKey = "sessionID"

// RequireSession rejects requests without a session token. The token is an
// opaque client value; the server never mints or validates its contents.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetHeader(SessionHeader)
		if sessionID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing " + SessionHeader + " header"})
			return
		}
		c.Set(sessionKey, sessionID)
		c.Next()
	}
}

// SessionID returns the session token set by RequireSession.
func SessionID(c *gin.Context) string {
	return c.GetString(sessionKey)
}
