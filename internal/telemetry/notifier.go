package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"linkchat/internal/chat"
	"linkchat/internal/observability"
	"linkchat/internal/rabbitmq"
)

const notificationSchemaVersion = 1

// NotificationEnvelope is the message published for every user-facing
// notification raised by the chat manager.
type NotificationEnvelope struct {
	SchemaVersion int                 `json:"schema_version"`
	EventType     string              `json:"event_type"`
	OccurredAt    string              `json:"occurred_at"`
	Service       string              `json:"service"`
	Environment   string              `json:"environment"`
	RequestID     string              `json:"request_id,omitempty"`
	SessionUserID string              `json:"session_user_id,omitempty"`
	Payload       NotificationPayload `json:"payload"`
}

type NotificationPayload struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id,omitempty"`
	Text   string `json:"text"`
}

// NotificationEmitter forwards chat notifications to the event exchange.
type NotificationEmitter struct {
	publisher   rabbitmq.Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
}

func NewNotificationEmitter(publisher rabbitmq.Publisher, routingKey, service, environment string, log *zap.Logger) *NotificationEmitter {
	return &NotificationEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Notify implements chat.Notifier.
func (e *NotificationEmitter) Notify(ctx context.Context, n chat.Notification) {
	if e == nil || e.publisher == nil {
		return
	}

	requestID := observability.RequestIDFromContext(ctx)
	envelope := NotificationEnvelope{
		SchemaVersion: notificationSchemaVersion,
		EventType:     "chat_notification",
		OccurredAt:    n.At.UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		SessionUserID: n.SessionUserID,
		Payload: NotificationPayload{
			Kind:   string(n.Kind),
			UserID: n.UserID,
			Text:   n.Text,
		},
	}

	headers := observability.BuildHeaders(requestID, observability.TraceIDFromContext(ctx))
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		e.log.Warn("notification publish failed", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}
