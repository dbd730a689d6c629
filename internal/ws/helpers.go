package ws

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cinema-chat/internal/middleware"
)

func newConnID() string {
	return uuid.NewString()
}

// tokenFromRequest accepts "Authorization: Bearer" or a token query parameter,
// since browsers cannot set headers on websocket handshakes.
func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		token, _ := middleware.BearerToken(header)
		return token
	}
	return c.Query("token")
}
