package fanout

import (
	"context"
	"log"
	"time"

	"cinema-chat/internal/models"
	"cinema-chat/internal/observability"
	"cinema-chat/internal/worker"
)

type ParticipantSource interface {
	ListParticipants(ctx context.Context, chatID int) ([]models.Participant, error)
}

// Presence is the slice of the presence registry the dispatcher needs.
type Presence interface {
	IsOnline(userID int) bool
	SendToUser(userID int, event string, payload any) int
}

// Dispatcher pushes chat events to the live connections of a chat's participants.
// Every method returns immediately; delivery runs on the executor and failures
// are only logged.
type Dispatcher struct {
	participants ParticipantSource
	presence     Presence
	exec         *worker.Executor
}

func NewDispatcher(participants ParticipantSource, presence Presence, exec *worker.Executor) *Dispatcher {
	return &Dispatcher{participants: participants, presence: presence, exec: exec}
}

func (d *Dispatcher) NewMessage(chatID, senderID int, msg models.MessageView) {
	d.dispatch(chatID, senderID, false, models.EventNewMessage, msg)
}

func (d *Dispatcher) Typing(chatID, userID int) {
	d.dispatch(chatID, userID, false, models.EventUserTyping, models.TypingEvent{ChatID: chatID, UserID: userID})
}

func (d *Dispatcher) MessageEdited(chatID, editorID int, msg models.MessageView) {
	d.dispatch(chatID, editorID, true, models.EventMessageEdited, msg)
}

func (d *Dispatcher) MessageDeleted(chatID, messageID, deletedBy int) {
	d.dispatch(chatID, deletedBy, true, models.EventMessageDeleted, models.MessageDeletedEvent{
		ChatID:    chatID,
		MessageID: messageID,
		DeletedBy: deletedBy,
	})
}

func (d *Dispatcher) MessageRead(chatID, readerID int, readAt time.Time) {
	d.dispatch(chatID, readerID, true, models.EventMessageRead, models.MessageReadEvent{
		ChatID: chatID,
		UserID: readerID,
		ReadAt: readAt,
	})
}

func (d *Dispatcher) dispatch(chatID, actorID int, includeActor bool, event string, payload any) {
	task := func(ctx context.Context) {
		d.deliver(ctx, chatID, actorID, includeActor, event, payload)
	}
	if d.exec == nil {
		task(context.Background())
		return
	}
	d.exec.Go("fanout_"+event, task)
}

func (d *Dispatcher) deliver(ctx context.Context, chatID, actorID int, includeActor bool, event string, payload any) {
	participants, err := d.participants.ListParticipants(ctx, chatID)
	if err != nil {
		log.Printf("fanout participants lookup failed chat_id=%d event=%s: %v", chatID, event, err)
		observability.IncFanoutDelivery(event, "lookup_error")
		return
	}

	for _, p := range participants {
		if p.UserID == actorID && !includeActor {
			continue
		}
		if !d.presence.IsOnline(p.UserID) {
			observability.IncFanoutDelivery(event, "offline")
			continue
		}
		if d.presence.SendToUser(p.UserID, event, payload) == 0 {
			observability.IncFanoutDelivery(event, "failed")
			continue
		}
		observability.IncFanoutDelivery(event, "delivered")
	}
}
