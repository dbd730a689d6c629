package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"cinema-chat/internal/models"
)

// MemoryStore keeps chats, messages and users in process memory. It backs local
// runs without Postgres and the service tests, and mirrors the SQL semantics.
type MemoryStore struct {
	mu sync.RWMutex

	users       map[int]models.User
	friendships map[[2]int]string

	chats        map[int]models.Chat
	participants []models.Participant
	messages     map[int]models.Message
	history      []models.MessageEditHistory

	nextChatID        int
	nextParticipantID int
	nextMessageID     int
	nextHistoryID     int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int]models.User),
		friendships: make(map[[2]int]string),
		chats:       make(map[int]models.Chat),
		messages:    make(map[int]models.Message),
	}
}

// AddUser inserts or replaces a user.
func (s *MemoryStore) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// SetFriendship records a friendship request from userID to friendID with a status.
func (s *MemoryStore) SetFriendship(userID int, friendID int, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friendships[[2]int{userID, friendID}] = status
}

func (s *MemoryStore) GetUser(_ context.Context, userID int) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return models.User{}, ErrUserNotFound
}

func (s *MemoryStore) BulkUsers(_ context.Context, ids []int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (s *MemoryStore) AreFriends(_ context.Context, userID int, otherID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.friendships[[2]int{userID, otherID}] == friendshipStatus ||
		s.friendships[[2]int{otherID, userID}] == friendshipStatus, nil
}

func (s *MemoryStore) AcceptedFriendIDs(_ context.Context, userID int) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[int]struct{}{}
	var ids []int
	for pair, status := range s.friendships {
		if status != friendshipStatus {
			continue
		}
		other := 0
		switch userID {
		case pair[0]:
			other = pair[1]
		case pair[1]:
			other = pair[0]
		default:
			continue
		}
		if _, ok := seen[other]; !ok {
			seen[other] = struct{}{}
			ids = append(ids, other)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *MemoryStore) GetChat(_ context.Context, chatID int) (models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, chatID int, userID int) (models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.participantIndex(chatID, userID); i >= 0 {
		return s.participants[i], nil
	}
	return models.Participant{}, ErrParticipantNotFound
}

func (s *MemoryStore) ListParticipants(_ context.Context, chatID int) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ps []models.Participant
	for _, p := range s.participants {
		if p.ChatID == chatID {
			ps = append(ps, p)
		}
	}
	return ps, nil
}

func (s *MemoryStore) ListActiveParticipations(_ context.Context, userID int) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ps []models.Participant
	for _, p := range s.participants {
		if p.UserID == userID && !p.Hidden() {
			ps = append(ps, p)
		}
	}
	return ps, nil
}

func (s *MemoryStore) FindOrCreatePrivateChat(_ context.Context, userID int, otherID int, at time.Time) (models.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.participants {
		if p.UserID != userID || p.Hidden() {
			continue
		}
		if i := s.participantIndex(p.ChatID, otherID); i >= 0 && !s.participants[i].Hidden() {
			return s.chats[p.ChatID], false, nil
		}
	}

	s.nextChatID++
	chat := models.Chat{ID: s.nextChatID, Type: models.ChatTypePrivate, CreatedAt: at, UpdatedAt: at}
	s.chats[chat.ID] = chat
	for _, id := range []int{userID, otherID} {
		s.nextParticipantID++
		s.participants = append(s.participants, models.Participant{
			ID:       s.nextParticipantID,
			ChatID:   chat.ID,
			UserID:   id,
			JoinedAt: at,
		})
	}
	return chat, true, nil
}

func (s *MemoryStore) HideChat(_ context.Context, chatID int, userID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.participantIndex(chatID, userID)
	if i < 0 {
		return ErrParticipantNotFound
	}
	s.participants[i].DeletedAt = timePtr(at)
	return nil
}

func (s *MemoryStore) MarkRead(_ context.Context, chatID int, userID int, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.participantIndex(chatID, userID)
	if i < 0 {
		return time.Time{}, ErrParticipantNotFound
	}
	p := &s.participants[i]
	if p.LastReadAt == nil || at.After(*p.LastReadAt) {
		p.LastReadAt = timePtr(at)
	}
	for id, msg := range s.messages {
		if msg.ChatID == chatID && msg.SenderID != userID && !msg.IsRead {
			msg.IsRead = true
			s.messages[id] = msg
		}
	}
	return *p.LastReadAt, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, chatID int, senderID int, content string, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.participants {
		p := &s.participants[i]
		if p.ChatID == chatID && p.Hidden() {
			p.RestoredAt = timePtr(at)
			p.DeletedAt = nil
		}
	}

	s.nextMessageID++
	msg := models.Message{
		ID:              s.nextMessageID,
		ChatID:          chatID,
		SenderID:        senderID,
		Content:         content,
		OriginalContent: content,
		CreatedAt:       at,
	}
	s.messages[msg.ID] = msg

	if chat, ok := s.chats[chatID]; ok {
		chat.UpdatedAt = at
		s.chats[chatID] = chat
	}
	return msg, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, chatID int, messageID int) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.ChatID != chatID {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

func (s *MemoryStore) GetMessageByID(_ context.Context, messageID int) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

// visibleLocked returns the viewer's visible messages in chronological order.
func (s *MemoryStore) visibleLocked(chatID int, viewer models.Participant) []models.Message {
	var msgs []models.Message
	for _, msg := range s.messages {
		if msg.ChatID != chatID || msg.DeletedAt != nil {
			continue
		}
		if viewer.RestoredAt != nil && msg.CreatedAt.Before(*viewer.RestoredAt) {
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs
}

func (s *MemoryStore) ListVisibleMessages(_ context.Context, chatID int, viewer models.Participant, limit int, beforeID *int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var msgs []models.Message
	for _, msg := range s.visibleLocked(chatID, viewer) {
		if beforeID != nil && msg.ID >= *beforeID {
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *MemoryStore) LatestVisibleMessage(_ context.Context, chatID int, viewer models.Participant) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.visibleLocked(chatID, viewer)
	if len(msgs) == 0 {
		return nil, nil
	}
	last := msgs[len(msgs)-1]
	return &last, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, chatID int, viewer models.Participant) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, msg := range s.visibleLocked(chatID, viewer) {
		if msg.SenderID == viewer.UserID {
			continue
		}
		if viewer.LastReadAt != nil && !msg.CreatedAt.After(*viewer.LastReadAt) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) UpdateContent(_ context.Context, messageID int, editorID int, content string, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.DeletedAt != nil {
		return models.Message{}, ErrMessageNotFound
	}

	s.nextHistoryID++
	s.history = append(s.history, models.MessageEditHistory{
		ID:         s.nextHistoryID,
		MessageID:  messageID,
		OldContent: msg.Content,
		NewContent: content,
		EditedBy:   editorID,
		EditedAt:   at,
	})

	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = timePtr(at)
	s.messages[messageID] = msg
	return msg, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, messageID int, deletedBy int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.DeletedAt != nil {
		return ErrMessageNotFound
	}
	msg.DeletedAt = timePtr(at)
	msg.DeletedBy = &deletedBy
	s.messages[messageID] = msg
	return nil
}

func (s *MemoryStore) ListEditHistory(_ context.Context, messageID int) ([]models.MessageEditHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var history []models.MessageEditHistory
	for _, h := range s.history {
		if h.MessageID == messageID {
			history = append(history, h)
		}
	}
	return history, nil
}

func (s *MemoryStore) participantIndex(chatID int, userID int) int {
	for i, p := range s.participants {
		if p.ChatID == chatID && p.UserID == userID {
			return i
		}
	}
	return -1
}

func timePtr(t time.Time) *time.Time {
	return &t
}

var (
	_ ChatRepository    = (*MemoryStore)(nil)
	_ MessageRepository = (*MemoryStore)(nil)
	_ UserRepository    = (*MemoryStore)(nil)
	_ ChatRepository    = (*ChatRepo)(nil)
	_ MessageRepository = (*MessageRepo)(nil)
	_ UserRepository    = (*UserRepo)(nil)
)
