package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"cinema-chat/internal/models"
	"cinema-chat/internal/presence"
)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) CreateChat(ctx context.Context, requesterID, friendID int) (models.ChatSummary, error) {
	args := m.Called(ctx, requesterID, friendID)
	var summary models.ChatSummary
	if val := args.Get(0); val != nil {
		summary = val.(models.ChatSummary)
	}
	return summary, args.Error(1)
}

func (m *ChatServiceMock) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) ListMessages(ctx context.Context, chatID, userID, limit int, beforeID *int) ([]models.MessageView, error) {
	args := m.Called(ctx, chatID, userID, limit, beforeID)
	var list []models.MessageView
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageView)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) SendMessage(ctx context.Context, chatID, senderID int, content string) (models.MessageView, error) {
	args := m.Called(ctx, chatID, senderID, content)
	var msg models.MessageView
	if val := args.Get(0); val != nil {
		msg = val.(models.MessageView)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) EditMessage(ctx context.Context, chatID, messageID, editorID int, content string) (models.MessageView, error) {
	args := m.Called(ctx, chatID, messageID, editorID, content)
	var msg models.MessageView
	if val := args.Get(0); val != nil {
		msg = val.(models.MessageView)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) DeleteMessage(ctx context.Context, chatID, messageID, requesterID int) error {
	args := m.Called(ctx, chatID, messageID, requesterID)
	return args.Error(0)
}

func (m *ChatServiceMock) MarkRead(ctx context.Context, chatID, userID int) (time.Time, error) {
	args := m.Called(ctx, chatID, userID)
	var readAt time.Time
	if val := args.Get(0); val != nil {
		readAt = val.(time.Time)
	}
	return readAt, args.Error(1)
}

func (m *ChatServiceMock) DeleteChat(ctx context.Context, chatID, userID int) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}

func (m *ChatServiceMock) CanMessage(ctx context.Context, senderID, receiverID int) (bool, string, error) {
	args := m.Called(ctx, senderID, receiverID)
	return args.Bool(0), args.String(1), args.Error(2)
}

func (m *ChatServiceMock) MessageAudit(ctx context.Context, messageID int) (models.MessageAudit, error) {
	args := m.Called(ctx, messageID)
	var audit models.MessageAudit
	if val := args.Get(0); val != nil {
		audit = val.(models.MessageAudit)
	}
	return audit, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) BulkUsers(ctx context.Context, ids []int) ([]models.User, error) {
	args := m.Called(ctx, ids)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *UserRepositoryMock) AreFriends(ctx context.Context, userID int, otherID int) (bool, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Bool(0), args.Error(1)
}

func (m *UserRepositoryMock) AcceptedFriendIDs(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

type PresenceMock struct {
	mock.Mock
}

func (m *PresenceMock) IsOnline(userID int) bool {
	args := m.Called(userID)
	return args.Bool(0)
}

func (m *PresenceMock) OnlineSubsetOf(userIDs []int) []int {
	args := m.Called(userIDs)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids
}

func (m *PresenceMock) OnlineUserIDs() []int {
	args := m.Called()
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids
}

func (m *PresenceMock) Stats() presence.Stats {
	args := m.Called()
	var stats presence.Stats
	if val := args.Get(0); val != nil {
		stats = val.(presence.Stats)
	}
	return stats
}
