package outbox

import (
	"encoding/json"
	"fmt"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	TypeNotificationSent   = "notification.sent.v1"
	TypeNotificationFailed = "notification.failed.v1"
	TypeReminderDLQ        = "scheduler.reminder.dlq.v1"
)

// NewAppointmentEvent wraps a JSON payload for an appointment aggregate.
func NewAppointmentEvent(eventType, appointmentID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("outbox: marshal %s: %w", eventType, err)
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
