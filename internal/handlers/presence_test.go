package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cinema-chat/internal/mocks"
	"cinema-chat/internal/presence"
)

func setupPresenceRouter(handler *PresenceHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	handler.RegisterRoutes(api)
	r.GET("/api/websocket/stats", handler.Stats)
	return r
}

func TestOnlineSubset(t *testing.T) {
	registry := new(mocks.PresenceMock)
	router := setupPresenceRouter(NewPresenceHandler(registry, new(mocks.UserRepositoryMock)))
	registry.On("OnlineSubsetOf", []int{2, 3, 4}).Return([]int{3}).Once()

	rec := perform(router, http.MethodPost, "/api/v1/presence/online", `{"user_ids":[2,3,4]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online":[3]}`, rec.Body.String())

	rec = perform(router, http.MethodPost, "/api/v1/presence/online", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	registry.AssertExpectations(t)
}

func TestOnlineFriends(t *testing.T) {
	registry := new(mocks.PresenceMock)
	users := new(mocks.UserRepositoryMock)
	router := setupPresenceRouter(NewPresenceHandler(registry, users))
	users.On("AcceptedFriendIDs", mock.Anything, 1).Return([]int{2, 5}, nil).Once()
	registry.On("OnlineSubsetOf", []int{2, 5}).Return([]int{5}).Once()

	rec := perform(router, http.MethodGet, "/api/v1/friends/online", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online_friend_ids":[5],"total_friends":2,"online_count":1}`, rec.Body.String())
	users.AssertExpectations(t)
	registry.AssertExpectations(t)
}

func TestUserOnlineAndList(t *testing.T) {
	registry := new(mocks.PresenceMock)
	router := setupPresenceRouter(NewPresenceHandler(registry, nil))
	registry.On("IsOnline", 7).Return(true).Once()
	registry.On("OnlineUserIDs").Return([]int{1, 7}).Once()

	rec := perform(router, http.MethodGet, "/api/v1/users/7/online", "")
	assert.JSONEq(t, `{"user_id":7,"is_online":true}`, rec.Body.String())

	rec = perform(router, http.MethodGet, "/api/v1/users/online", "")
	assert.JSONEq(t, `{"online_user_ids":[1,7],"count":2}`, rec.Body.String())

	registry.AssertExpectations(t)
}

func TestWebsocketStats(t *testing.T) {
	registry := new(mocks.PresenceMock)
	router := setupPresenceRouter(NewPresenceHandler(registry, nil))
	registry.On("Stats").Return(presence.Stats{
		TotalConnections:   3,
		UniqueUsers:        2,
		OnlineUsers:        2,
		ConnectionsPerUser: map[int]int{1: 2, 2: 1},
	}).Once()

	rec := perform(router, http.MethodGet, "/api/websocket/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_connections":3,"unique_users":2,"online_users":2,"connections_per_user":{"1":2,"2":1}}`, rec.Body.String())
}
