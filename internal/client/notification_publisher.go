package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/logger"
)

// Broker is the subset of the NATS client the publisher needs.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes approval events to NATS JetStream for
// consumption by the notifications service.
//
// Subject convention: notifications.approval.<kind>
// Kinds: requested, approved, rejected, cancelled
type NotificationPublisher struct {
	broker Broker
	log    *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by broker.
func NewNotificationPublisher(broker Broker, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{broker: broker, log: log}
}

// Subject returns the NATS subject for kind.
func Subject(kind domain.EventKind) string {
	return "notifications.approval." + strings.ToLower(string(kind))
}

// Publish renders event and sends it to every recipient in one message.
func (p *NotificationPublisher) Publish(ctx context.Context, recipients []string, event domain.Event) error {
	if len(recipients) == 0 {
		return nil
	}

	msg, err := render(recipients, event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", event.Kind, err)
	}

	subject := Subject(event.Kind)
	if err := p.broker.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("document_id", event.DocumentID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
	return nil
}

// render builds the message for each event kind. Every kind must be handled.
func render(recipients []string, e domain.Event) (*NotificationEvent, error) {
	msg := &NotificationEvent{
		EventType:    strings.ToLower(string(e.Kind)),
		Recipients:   recipients,
		ResourceType: "approval_document",
		ResourceID:   e.DocumentID,
		Category:     "approval",
		Severity:     "info",
		OccurredAt:   e.OccurredAt,
		Payload: map[string]interface{}{
			"document_title": e.DocumentTitle,
			"drafter_name":   e.DrafterName,
		},
	}

	switch e.Kind {
	case domain.EventRequested:
		msg.IsActionable = true
		msg.Title = "Approval requested"
		msg.Body = fmt.Sprintf("%s asks for your approval on %q as approver #%d",
			e.DrafterName, e.DocumentTitle, e.Sequence)
		msg.Payload["sequence"] = e.Sequence
	case domain.EventApproved:
		msg.Title = "Document approved"
		msg.Body = fmt.Sprintf("%q by %s completed its approval chain", e.DocumentTitle, e.DrafterName)
	case domain.EventRejected:
		msg.Severity = "warning"
		msg.Title = "Document rejected"
		msg.Body = fmt.Sprintf("%q was rejected: %s", e.DocumentTitle, e.Comment)
		msg.Payload["comment"] = e.Comment
	case domain.EventCancelled:
		msg.Title = "Document cancelled"
		msg.Body = fmt.Sprintf("%s withdrew %q", e.DrafterName, e.DocumentTitle)
	default:
		return nil, fmt.Errorf("unknown notification kind %q", e.Kind)
	}
	return msg, nil
}

// LogBroker writes would-be messages to the log. It stands in for NATS when
// publishing is disabled.
type LogBroker struct {
	Log *logger.Logger
}

// Publish logs subject and payload.
func (b LogBroker) Publish(_ context.Context, subject string, data []byte) error {
	b.Log.Info().
		Str("subject", subject).
		RawJSON("message", data).
		Msg("notification: NATS disabled, logging instead")
	return nil
}
