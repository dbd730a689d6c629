package telemetry

import (
	"context"
	"log"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// AuditEmitter publishes compliance records for destructive chat actions.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	Action        string         `json:"action"`
	OccurredAt    string         `json:"occurred_at"`
	Service       string         `json:"service"`
	Environment   string         `json:"environment"`
	RequestID     string         `json:"request_id,omitempty"`
	ActorID       int            `json:"actor_id"`
	ChatID        int            `json:"chat_id"`
	MessageID     *int           `json:"message_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// AuditRecord is the caller-facing part of an audit envelope.
type AuditRecord struct {
	Action    string
	RequestID string
	ActorID   int
	ChatID    int
	MessageID *int
	Details   map[string]any
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit is best effort: publish failures are logged and never reach the caller.
func (e *AuditEmitter) Emit(ctx context.Context, record AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "chat_audit",
		Action:        record.Action,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     record.RequestID,
		ActorID:       record.ActorID,
		ChatID:        record.ChatID,
		MessageID:     record.MessageID,
		Details:       record.Details,
	}

	headers := map[string]string{}
	if record.RequestID != "" {
		headers["x-request-id"] = record.RequestID
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		log.Printf("audit publish failed action=%s chat_id=%d: %v", record.Action, record.ChatID, err)
	}
}
