package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Event types published for requisitions.
const (
	EventRequisitionSubmitted        = "requisition_submitted"
	EventRequisitionApprovalRequired = "requisition_approval_required"
	EventRequisitionApproved         = "requisition_approved"
	EventRequisitionRejected         = "requisition_rejected"
	EventRequisitionCancelled        = "requisition_cancelled"
	EventRequisitionExecuting        = "requisition_executing"
	EventRequisitionCompleted        = "requisition_completed"
	EventQuotationAdded              = "quotation_added"
)

// MessagePublisher is the broker surface the notification publisher needs.
type MessagePublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes requisition workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: <prefix>.<event_type>, prefix notifications.scm by default.
//
// Publishing is non-fatal: errors are logged and never returned, so a broker
// outage never interrupts an approval.
type NotificationPublisher struct {
	broker MessagePublisher
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	ActionURL    string         `json:"action_url,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil broker disables publishing.
func NewNotificationPublisher(broker MessagePublisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = "notifications.scm"
	}
	return &NotificationPublisher{broker: broker, prefix: prefix, log: log}
}

// PublishRequisitionEvent publishes one requisition event. Recipients are
// role codes or employee ids; events without recipients are dropped.
func (p *NotificationPublisher) PublishRequisitionEvent(
	ctx context.Context,
	eventType, requisitionID, actorID string,
	recipients []string,
	actionable bool,
	payload map[string]any,
) {
	if p == nil || p.broker == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	severity := "info"
	if eventType == EventRequisitionRejected {
		severity = "warning"
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "requisition",
		ResourceID:   requisitionID,
		IsActionable: actionable,
		ActionURL:    fmt.Sprintf("/api/v1/requisitions/%s", requisitionID),
		Severity:     severity,
		Category:     "scm_requisition",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, eventType)
	if err := p.broker.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("requisition_id", requisitionID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("requisition_id", requisitionID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
