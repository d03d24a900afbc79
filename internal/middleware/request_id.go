package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"linkchat/internal/observability"
)

const RequestIDKey = "request_id"

// RequestID reuses the caller's X-Request-Id or mints one, echoes it back and
// stores it on both the gin and the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := observability.RequestIDFromRequest(c.Request)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}
