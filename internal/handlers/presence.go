package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"cinema-chat/internal/presence"
)

type PresenceReader interface {
	IsOnline(userID int) bool
	OnlineSubsetOf(userIDs []int) []int
	OnlineUserIDs() []int
	Stats() presence.Stats
}

type FriendLister interface {
	AcceptedFriendIDs(ctx context.Context, userID int) ([]int, error)
}

// PresenceHandler answers online-status queries from the in-memory registry.
type PresenceHandler struct {
	registry PresenceReader
	friends  FriendLister
}

func NewPresenceHandler(registry PresenceReader, friends FriendLister) *PresenceHandler {
	return &PresenceHandler{registry: registry, friends: friends}
}

type onlineRequest struct {
	UserIDs []int `json:"user_ids" binding:"required"`
}

func (h *PresenceHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/presence/online", h.OnlineSubset)
	api.GET("/users/online", h.OnlineUsers)
	api.GET("/users/:user_id/online", h.UserOnline)
	api.GET("/friends/online", h.OnlineFriends)
}

// OnlineSubset filters user_ids down to those currently connected.
func (h *PresenceHandler) OnlineSubset(c *gin.Context) {
	var req onlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": h.registry.OnlineSubsetOf(req.UserIDs)})
}

func (h *PresenceHandler) OnlineUsers(c *gin.Context) {
	ids := h.registry.OnlineUserIDs()
	c.JSON(http.StatusOK, gin.H{"online_user_ids": ids, "count": len(ids)})
}

func (h *PresenceHandler) UserOnline(c *gin.Context) {
	userID, ok := intParam(c, "user_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "is_online": h.registry.IsOnline(userID)})
}

func (h *PresenceHandler) OnlineFriends(c *gin.Context) {
	friendIDs, err := h.friends.AcceptedFriendIDs(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	online := h.registry.OnlineSubsetOf(friendIDs)
	c.JSON(http.StatusOK, gin.H{
		"online_friend_ids": online,
		"total_friends":     len(friendIDs),
		"online_count":      len(online),
	})
}

func (h *PresenceHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Stats())
}
