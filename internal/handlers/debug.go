package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"cinema-chat/internal/models"
)

type UserGetter interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, users UserGetter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/api/debug/privacy/:user_id", func(c *gin.Context) {
		userID, ok := intParam(c, "user_id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		user, err := users.GetUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"username":        user.Username,
			"message_privacy": user.MessagePrivacy,
			"is_null":         user.MessagePrivacy == nil,
			"effective":       user.EffectivePrivacy(),
		})
	})
}
