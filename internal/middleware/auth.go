package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"linkchat/internal/auth"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "userID"

// SessionSource reports the user owning the running chat session.
type SessionSource interface {
	CurrentUserID() string
}

// SessionGuard validates the Authorization header with the auth provider and
// only lets the request through when the token belongs to the user whose chat
// session is running.
func SessionGuard(provider auth.Provider, sessions SessionSource, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		userID, err := provider.CurrentUserID(c.Request.Context(), parts[1])
		if err != nil {
			log.Debug("token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		current := sessions.CurrentUserID()
		if current == "" {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no active chat session"})
			return
		}
		if current != userID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "session belongs to another user"})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}
