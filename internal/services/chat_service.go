package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cinema-chat/internal/apperrors"
	"cinema-chat/internal/models"
	"cinema-chat/internal/observability"
	"cinema-chat/internal/repositories"
	"cinema-chat/internal/telemetry"
	"cinema-chat/internal/worker"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 100
	MaxContentLength    = 5000
	DefaultEditWindow   = 24 * time.Hour
)

// Notifier receives committed chat changes for realtime delivery.
type Notifier interface {
	NewMessage(chatID, senderID int, msg models.MessageView)
	Typing(chatID, userID int)
	MessageEdited(chatID, editorID int, msg models.MessageView)
	MessageDeleted(chatID, messageID, deletedBy int)
	MessageRead(chatID, readerID int, readAt time.Time)
}

type Auditor interface {
	Emit(ctx context.Context, record telemetry.AuditRecord)
}

type Options struct {
	EditWindow time.Duration
	Now        func() time.Time
	// Exec publishes audit records off the request path. Nil emits inline.
	Exec *worker.Executor
}

// ChatService enforces private chat rules on top of the repositories.
type ChatService struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	notifier Notifier
	audit    Auditor
	exec     *worker.Executor

	editWindow time.Duration
	now        func() time.Time
	tracer     trace.Tracer
}

func NewChatService(chats repositories.ChatRepository, messages repositories.MessageRepository, users repositories.UserRepository, notifier Notifier, audit Auditor, opts Options) *ChatService {
	if opts.EditWindow <= 0 {
		opts.EditWindow = DefaultEditWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ChatService{
		chats:      chats,
		messages:   messages,
		users:      users,
		notifier:   notifier,
		audit:      audit,
		exec:       opts.Exec,
		editWindow: opts.EditWindow,
		now:        opts.Now,
		tracer:     otel.Tracer("cinema-chat/services"),
	}
}

// CreateChat returns the visible private chat between requester and friendID,
// creating a fresh one when none exists. Hidden chats are never reused here.
func (s *ChatService) CreateChat(ctx context.Context, requesterID, friendID int) (summary models.ChatSummary, err error) {
	ctx, span := s.startSpan(ctx, "chat.create", attribute.Int("user.id", requesterID), attribute.Int("friend.id", friendID))
	defer func() { endSpan(span, err) }()

	if friendID <= 0 {
		return models.ChatSummary{}, apperrors.Invalid("friend_id must be positive")
	}
	if friendID == requesterID {
		return models.ChatSummary{}, apperrors.Forbidden("cannot start a chat with yourself")
	}

	target, err := s.users.GetUser(ctx, friendID)
	if errors.Is(err, repositories.ErrUserNotFound) || (err == nil && !target.IsActive) {
		return models.ChatSummary{}, apperrors.NotFound("user not found")
	}
	if err != nil {
		return models.ChatSummary{}, apperrors.Internal(fmt.Errorf("load user %d: %w", friendID, err))
	}

	if err := s.checkPrivacy(ctx, requesterID, target); err != nil {
		return models.ChatSummary{}, err
	}

	chat, created, err := s.chats.FindOrCreatePrivateChat(ctx, requesterID, friendID, s.now())
	if err != nil {
		return models.ChatSummary{}, apperrors.Internal(fmt.Errorf("find or create chat: %w", err))
	}
	if created {
		log.Printf("chat created chat_id=%d user_id=%d friend_id=%d", chat.ID, requesterID, friendID)
		return newSummary(chat, &target, nil, 0), nil
	}

	viewer, err := s.chats.GetParticipant(ctx, chat.ID, requesterID)
	if err != nil {
		return models.ChatSummary{}, apperrors.Internal(fmt.Errorf("load participant: %w", err))
	}
	return s.summarize(ctx, chat, viewer, &target)
}

func (s *ChatService) checkPrivacy(ctx context.Context, requesterID int, target models.User) error {
	switch target.EffectivePrivacy() {
	case models.PrivacyNobody:
		return apperrors.Forbidden("user blocked messages")
	case models.PrivacyFriendsOnly:
		friends, err := s.users.AreFriends(ctx, requesterID, target.ID)
		if err != nil {
			return apperrors.Internal(fmt.Errorf("check friendship: %w", err))
		}
		if !friends {
			return apperrors.Forbidden("user accepts messages only from friends")
		}
	}
	return nil
}

// CanMessage reports whether senderID may open a chat with receiverID and, if not, why.
func (s *ChatService) CanMessage(ctx context.Context, senderID, receiverID int) (bool, string, error) {
	target, err := s.users.GetUser(ctx, receiverID)
	if errors.Is(err, repositories.ErrUserNotFound) || (err == nil && !target.IsActive) {
		return false, "user not found", nil
	}
	if err != nil {
		return false, "", apperrors.Internal(fmt.Errorf("load user %d: %w", receiverID, err))
	}
	if err := s.checkPrivacy(ctx, senderID, target); err != nil {
		if apperrors.IsForbidden(err) {
			return false, apperrors.ReasonOf(err), nil
		}
		return false, "", err
	}
	return true, "", nil
}

// ListChats returns the user's visible chats, most recently active first.
func (s *ChatService) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	participations, err := s.chats.ListActiveParticipations(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("list participations: %w", err))
	}

	type entry struct {
		chat    models.Chat
		viewer  models.Participant
		otherID int
	}
	entries := make([]entry, 0, len(participations))
	otherIDs := make([]int, 0, len(participations))
	for _, p := range participations {
		chat, err := s.chats.GetChat(ctx, p.ChatID)
		if err != nil {
			return nil, apperrors.Internal(fmt.Errorf("load chat %d: %w", p.ChatID, err))
		}
		all, err := s.chats.ListParticipants(ctx, p.ChatID)
		if err != nil {
			return nil, apperrors.Internal(fmt.Errorf("list participants %d: %w", p.ChatID, err))
		}
		e := entry{chat: chat, viewer: p}
		if other, ok := counterpart(all, userID); ok {
			e.otherID = other.UserID
			otherIDs = append(otherIDs, other.UserID)
		}
		entries = append(entries, e)
	}

	profiles, err := s.profiles(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ChatSummary, 0, len(entries))
	for _, e := range entries {
		var other *models.User
		if u, ok := profiles[e.otherID]; ok {
			other = &u
		}
		summary, err := s.summarize(ctx, e.chat, e.viewer, other)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].SortTime().After(summaries[j].SortTime())
	})
	return summaries, nil
}

func (s *ChatService) summarize(ctx context.Context, chat models.Chat, viewer models.Participant, other *models.User) (models.ChatSummary, error) {
	latest, err := s.messages.LatestVisibleMessage(ctx, chat.ID, viewer)
	if err != nil {
		return models.ChatSummary{}, apperrors.Internal(fmt.Errorf("latest message %d: %w", chat.ID, err))
	}
	unread, err := s.messages.CountUnread(ctx, chat.ID, viewer)
	if err != nil {
		return models.ChatSummary{}, apperrors.Internal(fmt.Errorf("count unread %d: %w", chat.ID, err))
	}
	return newSummary(chat, other, latest, unread), nil
}

func newSummary(chat models.Chat, other *models.User, latest *models.Message, unread int) models.ChatSummary {
	summary := models.ChatSummary{
		ID:          chat.ID,
		Type:        chat.Type,
		CreatedAt:   chat.CreatedAt,
		UpdatedAt:   chat.UpdatedAt,
		UnreadCount: unread,
	}
	if other != nil {
		id, name, username := other.ID, other.Name, other.Username
		summary.OtherUserID = &id
		summary.OtherUserName = &name
		summary.OtherUserUsername = &username
		if other.AvatarURL != "" {
			avatar := other.AvatarURL
			summary.OtherUserAvatar = &avatar
		}
	}
	if latest != nil {
		content, at, sender := latest.Content, latest.CreatedAt, latest.SenderID
		summary.LastMessage = &content
		summary.LastMessageTime = &at
		summary.LastMessageSenderID = &sender
	}
	return summary
}

// ListMessages returns the page of messages visible to userID in chronological order.
func (s *ChatService) ListMessages(ctx context.Context, chatID, userID, limit int, beforeID *int) ([]models.MessageView, error) {
	viewer, err := s.requireParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListVisibleMessages(ctx, chatID, viewer, ClampLimit(limit), beforeID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("list messages %d: %w", chatID, err))
	}

	senderIDs := make([]int, 0, 2)
	for _, m := range msgs {
		senderIDs = append(senderIDs, m.SenderID)
	}
	profiles, err := s.profiles(ctx, senderIDs)
	if err != nil {
		return nil, err
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, models.NewMessageView(m, profiles[m.SenderID]))
	}
	return views, nil
}

// ClampLimit applies the page size bounds.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultMessageLimit
	case limit > MaxMessageLimit:
		return MaxMessageLimit
	default:
		return limit
	}
}

// SendMessage stores a message and restores the chat for every participant that hid it.
func (s *ChatService) SendMessage(ctx context.Context, chatID, senderID int, content string) (view models.MessageView, err error) {
	ctx, span := s.startSpan(ctx, "chat.send_message", attribute.Int("chat.id", chatID), attribute.Int("user.id", senderID))
	defer func() { endSpan(span, err) }()

	content, err = normalizeContent(content)
	if err != nil {
		return models.MessageView{}, err
	}
	if _, err := s.requireParticipant(ctx, chatID, senderID); err != nil {
		return models.MessageView{}, err
	}
	all, err := s.chats.ListParticipants(ctx, chatID)
	if err != nil {
		return models.MessageView{}, apperrors.Internal(fmt.Errorf("list participants %d: %w", chatID, err))
	}
	if _, ok := counterpart(all, senderID); !ok {
		return models.MessageView{}, apperrors.NotFound("recipient not found")
	}

	msg, err := s.messages.CreateMessage(ctx, chatID, senderID, content, s.now())
	if err != nil {
		return models.MessageView{}, apperrors.Internal(fmt.Errorf("create message: %w", err))
	}
	observability.IncChatAction("sent")

	view = models.NewMessageView(msg, s.profileOrStub(ctx, senderID))
	s.notifier.NewMessage(chatID, senderID, view)
	return view, nil
}

// EditMessage replaces the content of the editor's own message inside the edit window.
func (s *ChatService) EditMessage(ctx context.Context, chatID, messageID, editorID int, content string) (view models.MessageView, err error) {
	ctx, span := s.startSpan(ctx, "chat.edit_message", attribute.Int("chat.id", chatID), attribute.Int("message.id", messageID))
	defer func() { endSpan(span, err) }()

	content, err = normalizeContent(content)
	if err != nil {
		return models.MessageView{}, err
	}
	msg, err := s.ownedMessage(ctx, chatID, messageID, editorID)
	if err != nil {
		return models.MessageView{}, err
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, editorID, content, s.now())
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.MessageView{}, apperrors.Conflict("message was deleted concurrently")
	}
	if err != nil {
		return models.MessageView{}, apperrors.Internal(fmt.Errorf("update message %d: %w", messageID, err))
	}
	observability.IncChatAction("edited")

	view = models.NewMessageView(updated, s.profileOrStub(ctx, editorID))
	s.notifier.MessageEdited(chatID, editorID, view)
	s.emitAudit(ctx, "message_edited", editorID, chatID, &messageID, map[string]any{
		"old_content": msg.Content,
		"new_content": updated.Content,
	})
	return view, nil
}

// DeleteMessage hides the requester's own message inside the edit window. The row is kept.
func (s *ChatService) DeleteMessage(ctx context.Context, chatID, messageID, requesterID int) (err error) {
	ctx, span := s.startSpan(ctx, "chat.delete_message", attribute.Int("chat.id", chatID), attribute.Int("message.id", messageID))
	defer func() { endSpan(span, err) }()

	if _, err := s.ownedMessage(ctx, chatID, messageID, requesterID); err != nil {
		return err
	}

	err = s.messages.SoftDelete(ctx, messageID, requesterID, s.now())
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return apperrors.Conflict("message was deleted concurrently")
	}
	if err != nil {
		return apperrors.Internal(fmt.Errorf("delete message %d: %w", messageID, err))
	}
	observability.IncChatAction("deleted")

	s.notifier.MessageDeleted(chatID, messageID, requesterID)
	s.emitAudit(ctx, "message_deleted", requesterID, chatID, &messageID, nil)
	return nil
}

func (s *ChatService) ownedMessage(ctx context.Context, chatID, messageID, userID int) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, chatID, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && msg.DeletedAt != nil) {
		return models.Message{}, apperrors.NotFound("message not found")
	}
	if err != nil {
		return models.Message{}, apperrors.Internal(fmt.Errorf("load message %d: %w", messageID, err))
	}
	if msg.SenderID != userID {
		return models.Message{}, apperrors.Forbidden("not the message owner")
	}
	if s.now().Sub(msg.CreatedAt) > s.editWindow {
		return models.Message{}, apperrors.WindowExpired()
	}
	return msg, nil
}

// MarkRead moves the reader's watermark forward and flags the counterpart's messages as read.
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID int) (readAt time.Time, err error) {
	ctx, span := s.startSpan(ctx, "chat.mark_read", attribute.Int("chat.id", chatID), attribute.Int("user.id", userID))
	defer func() { endSpan(span, err) }()

	if _, err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return time.Time{}, err
	}
	readAt, err = s.chats.MarkRead(ctx, chatID, userID, s.now())
	if err != nil {
		return time.Time{}, apperrors.Internal(fmt.Errorf("mark read %d: %w", chatID, err))
	}

	s.notifier.MessageRead(chatID, userID, readAt)
	return readAt, nil
}

// DeleteChat hides the chat for userID only.
func (s *ChatService) DeleteChat(ctx context.Context, chatID, userID int) (err error) {
	ctx, span := s.startSpan(ctx, "chat.delete", attribute.Int("chat.id", chatID), attribute.Int("user.id", userID))
	defer func() { endSpan(span, err) }()

	if _, err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.chats.HideChat(ctx, chatID, userID, s.now()); err != nil {
		return apperrors.Internal(fmt.Errorf("hide chat %d: %w", chatID, err))
	}
	log.Printf("chat hidden chat_id=%d user_id=%d", chatID, userID)

	s.emitAudit(ctx, "chat_deleted", userID, chatID, nil, nil)
	return nil
}

// Typing relays a typing indicator from a participant.
func (s *ChatService) Typing(ctx context.Context, chatID, userID int) error {
	if _, err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	s.notifier.Typing(chatID, userID)
	return nil
}

// MessageAudit returns the stored row of any message, hidden or not, with its edit log.
func (s *ChatService) MessageAudit(ctx context.Context, messageID int) (models.MessageAudit, error) {
	msg, err := s.messages.GetMessageByID(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.MessageAudit{}, apperrors.NotFound("message not found")
	}
	if err != nil {
		return models.MessageAudit{}, apperrors.Internal(fmt.Errorf("load message %d: %w", messageID, err))
	}
	history, err := s.messages.ListEditHistory(ctx, messageID)
	if err != nil {
		return models.MessageAudit{}, apperrors.Internal(fmt.Errorf("load edit history %d: %w", messageID, err))
	}
	if history == nil {
		history = []models.MessageEditHistory{}
	}
	return models.MessageAudit{Message: msg, History: history}, nil
}

func (s *ChatService) requireParticipant(ctx context.Context, chatID, userID int) (models.Participant, error) {
	p, err := s.chats.GetParticipant(ctx, chatID, userID)
	if errors.Is(err, repositories.ErrParticipantNotFound) {
		return models.Participant{}, apperrors.Forbidden("not a participant")
	}
	if err != nil {
		return models.Participant{}, apperrors.Internal(fmt.Errorf("load participant: %w", err))
	}
	return p, nil
}

func (s *ChatService) profiles(ctx context.Context, ids []int) (map[int]models.User, error) {
	out := make(map[int]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.users.BulkUsers(ctx, uniqueInts(ids))
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("load users: %w", err))
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// profileOrStub is used after a commit, where a profile lookup failure must not fail the call.
func (s *ChatService) profileOrStub(ctx context.Context, userID int) models.User {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		log.Printf("chat profile lookup failed user_id=%d: %v", userID, err)
		return models.User{ID: userID}
	}
	return user
}

func (s *ChatService) emitAudit(ctx context.Context, action string, actorID, chatID int, messageID *int, details map[string]any) {
	if s.audit == nil {
		return
	}
	record := telemetry.AuditRecord{
		Action:    action,
		RequestID: RequestIDFromContext(ctx),
		ActorID:   actorID,
		ChatID:    chatID,
		MessageID: messageID,
		Details:   details,
	}
	if s.exec == nil {
		s.audit.Emit(ctx, record)
		return
	}
	s.exec.Go("chat_audit", func(taskCtx context.Context) {
		s.audit.Emit(taskCtx, record)
	})
}

func (s *ChatService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.KindOf(err).String())
	}
	span.End()
}

func normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperrors.Invalid("content must not be empty")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", apperrors.Invalid(fmt.Sprintf("content exceeds %d characters", MaxContentLength))
	}
	return content, nil
}

func counterpart(participants []models.Participant, userID int) (models.Participant, bool) {
	for _, p := range participants {
		if p.UserID != userID {
			return p, true
		}
	}
	return models.Participant{}, false
}

func uniqueInts(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
