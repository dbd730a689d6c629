package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cinema-chat/internal/mocks"
)

type capturePublisher struct {
	key      string
	event    any
	headers  map[string]string
	failWith error
}

func (c *capturePublisher) Publish(_ context.Context, routingKey string, event any, headers map[string]string) error {
	c.key = routingKey
	c.event = event
	c.headers = headers
	return c.failWith
}

func TestEmitBuildsEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.chat", "cinema-chat", "test")
	emitter.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	messageID := 9

	emitter.Emit(context.Background(), AuditRecord{
		Action:    "message_edited",
		RequestID: "req-7",
		ActorID:   1,
		ChatID:    3,
		MessageID: &messageID,
	})

	assert.Equal(t, "audit.chat", pub.key)
	assert.Equal(t, map[string]string{"x-request-id": "req-7"}, pub.headers)
	envelope, ok := pub.event.(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, "chat_audit", envelope.EventType)
	assert.Equal(t, "message_edited", envelope.Action)
	assert.Equal(t, "2024-03-01T10:00:00Z", envelope.OccurredAt)
	assert.Equal(t, 3, envelope.ChatID)
	assert.Equal(t, &messageID, envelope.MessageID)
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	pub := &capturePublisher{failWith: errors.New("down")}
	emitter := NewAuditEmitter(pub, "audit.chat", "cinema-chat", "test")

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), AuditRecord{Action: "chat_deleted", ActorID: 1, ChatID: 2})
	})
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), AuditRecord{Action: "chat_deleted"})
	})
}

func TestEmitPublishesToRoutingKey(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "cinema-chat", "test")
	pub.On("Publish", mock.Anything, "audit.chat", mock.AnythingOfType("telemetry.AuditEnvelope"), map[string]string{}).Return(nil).Once()

	emitter.Emit(context.Background(), AuditRecord{Action: "chat_deleted", ActorID: 1, ChatID: 2})

	pub.AssertExpectations(t)
}
