package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinema-chat/internal/apperrors"
	"cinema-chat/internal/models"
	"cinema-chat/internal/repositories"
	"cinema-chat/internal/telemetry"
	"cinema-chat/internal/worker"
)

const (
	alice = 1
	bob   = 2
	carol = 3
	dave  = 4
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type notification struct {
	event   string
	chatID  int
	actorID int
	payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) record(event string, chatID, actorID int, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{event: event, chatID: chatID, actorID: actorID, payload: payload})
}

func (n *recordingNotifier) NewMessage(chatID, senderID int, msg models.MessageView) {
	n.record(models.EventNewMessage, chatID, senderID, msg)
}

func (n *recordingNotifier) Typing(chatID, userID int) {
	n.record(models.EventUserTyping, chatID, userID, nil)
}

func (n *recordingNotifier) MessageEdited(chatID, editorID int, msg models.MessageView) {
	n.record(models.EventMessageEdited, chatID, editorID, msg)
}

func (n *recordingNotifier) MessageDeleted(chatID, messageID, deletedBy int) {
	n.record(models.EventMessageDeleted, chatID, deletedBy, messageID)
}

func (n *recordingNotifier) MessageRead(chatID, readerID int, readAt time.Time) {
	n.record(models.EventMessageRead, chatID, readerID, readAt)
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.event)
	}
	return out
}

type recordingAuditor struct {
	records []telemetry.AuditRecord
}

func (a *recordingAuditor) Emit(_ context.Context, record telemetry.AuditRecord) {
	a.records = append(a.records, record)
}

type fixture struct {
	svc      *ChatService
	store    *repositories.MemoryStore
	clock    *testClock
	notifier *recordingNotifier
	auditor  *recordingAuditor
}

func privacy(v string) *string { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	store.AddUser(models.User{ID: alice, Username: "alice", Name: "Alice", AvatarURL: "/a.png", IsActive: true})
	store.AddUser(models.User{ID: bob, Username: "bob", Name: "Bob", IsActive: true})
	store.AddUser(models.User{ID: carol, Username: "carol", Name: "Carol", MessagePrivacy: privacy(models.PrivacyFriendsOnly), IsActive: true})
	store.AddUser(models.User{ID: dave, Username: "dave", Name: "Dave", MessagePrivacy: privacy(models.PrivacyNobody), IsActive: true})

	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	auditor := &recordingAuditor{}
	svc := NewChatService(store, store, store, notifier, auditor, Options{Now: clock.Now})
	return &fixture{svc: svc, store: store, clock: clock, notifier: notifier, auditor: auditor}
}

func (f *fixture) chat(t *testing.T, a, b int) int {
	t.Helper()
	summary, err := f.svc.CreateChat(context.Background(), a, b)
	require.NoError(t, err)
	return summary.ID
}

func (f *fixture) send(t *testing.T, chatID, sender int, content string) models.MessageView {
	t.Helper()
	f.clock.Advance(time.Minute)
	view, err := f.svc.SendMessage(context.Background(), chatID, sender, content)
	require.NoError(t, err)
	return view
}

func contents(views []models.MessageView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.Content)
	}
	return out
}

func findSummary(summaries []models.ChatSummary, chatID int) *models.ChatSummary {
	for i := range summaries {
		if summaries[i].ID == chatID {
			return &summaries[i]
		}
	}
	return nil
}

func TestCreateChatIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateChat(ctx, alice, bob)
	require.NoError(t, err)
	second, err := f.svc.CreateChat(ctx, alice, bob)
	require.NoError(t, err)
	reverse, err := f.svc.CreateChat(ctx, bob, alice)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ID, reverse.ID)
	assert.Equal(t, 0, first.UnreadCount)
	require.NotNil(t, first.OtherUserUsername)
	assert.Equal(t, "bob", *first.OtherUserUsername)
	assert.Nil(t, first.OtherUserAvatar)
	require.NotNil(t, reverse.OtherUserAvatar)
	assert.Equal(t, "/a.png", *reverse.OtherUserAvatar)
}

func TestCreateChatPrivacyGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateChat(ctx, alice, dave)
	assert.True(t, apperrors.IsForbidden(err))
	assert.Equal(t, "user blocked messages", apperrors.ReasonOf(err))

	_, err = f.svc.CreateChat(ctx, alice, carol)
	assert.True(t, apperrors.IsForbidden(err))

	f.store.SetFriendship(carol, alice, "pending")
	_, err = f.svc.CreateChat(ctx, alice, carol)
	assert.True(t, apperrors.IsForbidden(err))

	f.store.SetFriendship(carol, alice, "accepted")
	_, err = f.svc.CreateChat(ctx, alice, carol)
	assert.NoError(t, err)
}

func TestCreateChatRejectsBadTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateChat(ctx, alice, 99)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.svc.CreateChat(ctx, alice, alice)
	assert.True(t, apperrors.IsForbidden(err))

	_, err = f.svc.CreateChat(ctx, alice, 0)
	assert.True(t, apperrors.IsInvalid(err))

	f.store.AddUser(models.User{ID: 5, Username: "gone", IsActive: false})
	_, err = f.svc.CreateChat(ctx, alice, 5)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteThenCreateYieldsNewChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := f.chat(t, alice, bob)
	f.send(t, original, alice, "before")

	require.NoError(t, f.svc.DeleteChat(ctx, original, alice))
	fresh := f.chat(t, alice, bob)

	assert.NotEqual(t, original, fresh)
}

func TestSendIntoStaleChatRestoresIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := f.chat(t, alice, bob)
	f.send(t, original, alice, "old")

	require.NoError(t, f.svc.DeleteChat(ctx, original, alice))
	f.send(t, original, bob, "new")

	chats, err := f.svc.ListChats(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, original, chats[0].ID)

	msgs, err := f.svc.ListMessages(ctx, original, alice, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, contents(msgs))
}

func TestReadAndRestoreScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)
	hi := f.send(t, chatID, alice, "hi")

	bobChats, err := f.svc.ListChats(ctx, bob)
	require.NoError(t, err)
	require.Len(t, bobChats, 1)
	assert.Equal(t, 1, bobChats[0].UnreadCount)

	f.clock.Advance(time.Minute)
	_, err = f.svc.MarkRead(ctx, chatID, bob)
	require.NoError(t, err)
	bobChats, err = f.svc.ListChats(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 0, bobChats[0].UnreadCount)
	audit, err := f.svc.MessageAudit(ctx, hi.ID)
	require.NoError(t, err)
	assert.True(t, audit.Message.IsRead)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.DeleteChat(ctx, chatID, alice))
	aliceChats, err := f.svc.ListChats(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, aliceChats)
	bobChats, err = f.svc.ListChats(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, bobChats, 1)

	f.send(t, chatID, bob, "hey")
	aliceChats, err = f.svc.ListChats(ctx, alice)
	require.NoError(t, err)
	require.Len(t, aliceChats, 1)
	require.NotNil(t, aliceChats[0].LastMessage)
	assert.Equal(t, "hey", *aliceChats[0].LastMessage)
	assert.Equal(t, 1, aliceChats[0].UnreadCount)

	msgs, err := f.svc.ListMessages(ctx, chatID, alice, 50, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hey"}, contents(msgs))

	bobMsgs, err := f.svc.ListMessages(ctx, chatID, bob, 50, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hey"}, contents(bobMsgs))
}

func TestUnreadCountWithoutReadWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)
	f.send(t, chatID, alice, "one")
	f.send(t, chatID, bob, "mine")
	second := f.send(t, chatID, alice, "two")
	f.send(t, chatID, alice, "three")

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.DeleteMessage(ctx, chatID, second.ID, alice))

	chats, err := f.svc.ListChats(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 2, chats[0].UnreadCount)
}

func TestEditHistoryScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)
	msg := f.send(t, chatID, alice, "x")

	f.clock.Advance(time.Minute)
	edited, err := f.svc.EditMessage(ctx, chatID, msg.ID, alice, "y")
	require.NoError(t, err)
	assert.Equal(t, "y", edited.Content)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)

	audit, err := f.svc.MessageAudit(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "y", audit.Message.Content)
	assert.Equal(t, "x", audit.Message.OriginalContent)
	require.Len(t, audit.History, 1)
	assert.Equal(t, "x", audit.History[0].OldContent)
	assert.Equal(t, "y", audit.History[0].NewContent)

	f.clock.Advance(time.Minute)
	_, err = f.svc.EditMessage(ctx, chatID, msg.ID, alice, "z")
	require.NoError(t, err)

	audit, err = f.svc.MessageAudit(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", audit.Message.OriginalContent)
	require.Len(t, audit.History, 2)
	assert.Equal(t, "y", audit.History[1].OldContent)
	assert.Equal(t, "z", audit.History[1].NewContent)

	require.Len(t, f.auditor.records, 2)
	assert.Equal(t, "message_edited", f.auditor.records[0].Action)
	assert.Equal(t, msg.ID, *f.auditor.records[0].MessageID)
}

func TestEditWindowBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)
	msg := f.send(t, chatID, alice, "draft")
	created := f.clock.now

	f.clock.now = created.Add(23*time.Hour + 59*time.Minute)
	_, err := f.svc.EditMessage(ctx, chatID, msg.ID, alice, "final")
	require.NoError(t, err)

	audit, err := f.svc.MessageAudit(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, audit.History, 1)
	assert.Equal(t, "draft", audit.History[0].OldContent)

	f.clock.now = created.Add(24*time.Hour + time.Second)
	_, err = f.svc.EditMessage(ctx, chatID, msg.ID, alice, "too late")
	assert.True(t, apperrors.IsForbidden(err))
	assert.True(t, apperrors.IsWindowExpired(err))

	err = f.svc.DeleteMessage(ctx, chatID, msg.ID, alice)
	assert.True(t, apperrors.IsWindowExpired(err))

	audit, err = f.svc.MessageAudit(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, audit.History, 1)
	assert.Nil(t, audit.Message.DeletedAt)
}

func TestOnlySenderMayEditOrDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)
	msg := f.send(t, chatID, alice, "mine")

	_, err := f.svc.EditMessage(ctx, chatID, msg.ID, bob, "hijack")
	assert.True(t, apperrors.IsForbidden(err))
	assert.False(t, apperrors.IsWindowExpired(err))

	err = f.svc.DeleteMessage(ctx, chatID, msg.ID, bob)
	assert.True(t, apperrors.IsForbidden(err))

	_, err = f.svc.EditMessage(ctx, chatID, 999, alice, "nothing")
	assert.True(t, apperrors.IsNotFound(err))

	f.store.SetFriendship(alice, carol, "accepted")
	other := f.chat(t, alice, carol)
	_, err = f.svc.EditMessage(ctx, other, msg.ID, alice, "wrong chat")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeletedMessageStaysAuditable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)
	keep := f.send(t, chatID, alice, "keep")
	drop := f.send(t, chatID, alice, "drop")

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.DeleteMessage(ctx, chatID, drop.ID, alice))

	for _, viewer := range []int{alice, bob} {
		msgs, err := f.svc.ListMessages(ctx, chatID, viewer, 50, nil)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, keep.ID, msgs[0].ID)
	}

	audit, err := f.svc.MessageAudit(ctx, drop.ID)
	require.NoError(t, err)
	require.NotNil(t, audit.Message.DeletedAt)
	require.NotNil(t, audit.Message.DeletedBy)
	assert.Equal(t, alice, *audit.Message.DeletedBy)
	assert.Equal(t, "drop", audit.Message.Content)

	err = f.svc.DeleteMessage(ctx, chatID, drop.ID, alice)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.svc.EditMessage(ctx, chatID, drop.ID, alice, "revive")
	assert.True(t, apperrors.IsNotFound(err))

	require.Len(t, f.auditor.records, 1)
	assert.Equal(t, "message_deleted", f.auditor.records[0].Action)
}

func TestNonParticipantIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)

	_, err := f.svc.SendMessage(ctx, chatID, carol, "intruder")
	assert.True(t, apperrors.IsForbidden(err))
	_, err = f.svc.ListMessages(ctx, chatID, carol, 10, nil)
	assert.True(t, apperrors.IsForbidden(err))
	_, err = f.svc.MarkRead(ctx, chatID, carol)
	assert.True(t, apperrors.IsForbidden(err))
	assert.True(t, apperrors.IsForbidden(f.svc.DeleteChat(ctx, chatID, carol)))
	assert.True(t, apperrors.IsForbidden(f.svc.Typing(ctx, chatID, carol)))
	assert.Empty(t, f.notifier.names())
}

func TestSendMessageValidatesContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)

	_, err := f.svc.SendMessage(ctx, chatID, alice, "   ")
	assert.True(t, apperrors.IsInvalid(err))

	_, err = f.svc.SendMessage(ctx, chatID, alice, strings.Repeat("a", MaxContentLength+1))
	assert.True(t, apperrors.IsInvalid(err))

	view, err := f.svc.SendMessage(ctx, chatID, alice, "  padded  ")
	require.NoError(t, err)
	assert.Equal(t, "padded", view.Content)
	assert.Equal(t, "Alice", view.SenderName)
	assert.False(t, view.IsRead)
}

func TestNotificationsFollowCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)
	msg := f.send(t, chatID, alice, "hello")

	f.clock.Advance(time.Minute)
	_, err := f.svc.EditMessage(ctx, chatID, msg.ID, alice, "hello!")
	require.NoError(t, err)
	_, err = f.svc.MarkRead(ctx, chatID, bob)
	require.NoError(t, err)
	require.NoError(t, f.svc.Typing(ctx, chatID, bob))
	require.NoError(t, f.svc.DeleteMessage(ctx, chatID, msg.ID, alice))

	assert.Equal(t, []string{
		models.EventNewMessage,
		models.EventMessageEdited,
		models.EventMessageRead,
		models.EventUserTyping,
		models.EventMessageDeleted,
	}, f.notifier.names())
}

func TestMarkReadReturnsWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)

	readAt, err := f.svc.MarkRead(ctx, chatID, bob)
	require.NoError(t, err)
	assert.Equal(t, f.clock.now, readAt)
}

func TestListChatsSortedByActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetFriendship(alice, carol, "accepted")

	withBob := f.chat(t, alice, bob)
	f.clock.Advance(time.Minute)
	withCarol := f.chat(t, alice, carol)

	chats, err := f.svc.ListChats(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, withCarol, chats[0].ID)

	f.send(t, withBob, bob, "ping")
	chats, err = f.svc.ListChats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, withBob, chats[0].ID)
	assert.NotNil(t, findSummary(chats, withCarol))
	assert.Nil(t, findSummary(chats, withCarol).LastMessage)
}

func TestListMessagesPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.chat(t, alice, bob)
	var ids []int
	for _, c := range []string{"1", "2", "3", "4"} {
		ids = append(ids, f.send(t, chatID, alice, c).ID)
	}

	page, err := f.svc.ListMessages(ctx, chatID, bob, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, contents(page))

	page, err = f.svc.ListMessages(ctx, chatID, bob, 2, &ids[2])
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, contents(page))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultMessageLimit, ClampLimit(0))
	assert.Equal(t, DefaultMessageLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxMessageLimit, ClampLimit(1000))
}

func TestAuditRecordCarriesRequestID(t *testing.T) {
	f := newFixture(t)
	chatID := f.chat(t, alice, bob)

	ctx := WithRequestID(context.Background(), "req-42")
	require.NoError(t, f.svc.DeleteChat(ctx, chatID, alice))

	require.Len(t, f.auditor.records, 1)
	assert.Equal(t, "chat_deleted", f.auditor.records[0].Action)
	assert.Equal(t, "req-42", f.auditor.records[0].RequestID)
	assert.Nil(t, f.auditor.records[0].MessageID)
}

type failingUsers struct {
	repositories.UserRepository
}

func (failingUsers) GetUser(context.Context, int) (models.User, error) {
	return models.User{}, errors.New("pq: connection refused")
}

func TestStorageFailuresAreInternal(t *testing.T) {
	f := newFixture(t)
	svc := NewChatService(f.store, f.store, failingUsers{f.store}, f.notifier, nil, Options{Now: f.clock.Now})

	_, err := svc.CreateChat(context.Background(), alice, bob)

	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
	assert.Equal(t, "internal error", apperrors.ReasonOf(err))
}

func TestCanMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, reason, err := f.svc.CanMessage(ctx, alice, bob)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason, err = f.svc.CanMessage(ctx, alice, dave)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "user blocked messages", reason)

	ok, reason, err = f.svc.CanMessage(ctx, alice, carol)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "user accepts messages only from friends", reason)

	ok, reason, err = f.svc.CanMessage(ctx, alice, 42)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "user not found", reason)
}

type ctxAuditor struct {
	mu      sync.Mutex
	records []telemetry.AuditRecord
	ctxErrs []error
}

func (a *ctxAuditor) Emit(ctx context.Context, record telemetry.AuditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	a.ctxErrs = append(a.ctxErrs, ctx.Err())
}

func TestAuditSurvivesCancelledRequest(t *testing.T) {
	store := repositories.NewMemoryStore()
	store.AddUser(models.User{ID: alice, Username: "alice", IsActive: true})
	store.AddUser(models.User{ID: bob, Username: "bob", IsActive: true})
	exec := worker.NewExecutor()
	auditor := &ctxAuditor{}
	svc := NewChatService(store, store, store, &recordingNotifier{}, auditor, Options{Exec: exec})

	chat, err := svc.CreateChat(context.Background(), alice, bob)
	require.NoError(t, err)
	msg, err := svc.SendMessage(context.Background(), chat.ID, alice, "hello")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(WithRequestID(context.Background(), "req-42"))
	require.NoError(t, svc.DeleteMessage(ctx, chat.ID, msg.ID, alice))
	cancel()
	exec.Wait()

	auditor.mu.Lock()
	defer auditor.mu.Unlock()
	require.Len(t, auditor.records, 1)
	assert.Equal(t, "message_deleted", auditor.records[0].Action)
	assert.Equal(t, "req-42", auditor.records[0].RequestID)
	assert.NoError(t, auditor.ctxErrs[0])
}
