package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

const (
	TopicAppointmentBooked      = "booking.appointment.booked.v1"
	TopicAppointmentRescheduled = "booking.appointment.rescheduled.v1"
	TopicAppointmentCancelled   = "booking.appointment.cancelled.v1"
	TopicAppointmentDeleted     = "booking.appointment.deleted.v1"
)

// BookingTopics are the clinic application events the scheduler follows.
var BookingTopics = []string{
	TopicAppointmentBooked,
	TopicAppointmentRescheduled,
	TopicAppointmentCancelled,
	TopicAppointmentDeleted,
}

// Appointments reacts to appointment changes made outside this service.
type Appointments interface {
	Refresh(ctx context.Context, id string) error
	Forget(id string)
}

type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
}

// BookingHandler keeps the reminder table in step with booking events. Booked and
// rescheduled appointments are reloaded and rescheduled; cancelled and deleted ones
// lose their reminder.
func BookingHandler(logger *slog.Logger, appts Appointments) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload appointmentEvent
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid appointment event", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.AppointmentID == "" {
			logger.Error("appointment event without appointment_id", "topic", msg.Topic)
			return nil
		}

		switch msg.Topic {
		case TopicAppointmentBooked, TopicAppointmentRescheduled:
			return appts.Refresh(ctx, payload.AppointmentID)
		case TopicAppointmentCancelled, TopicAppointmentDeleted:
			appts.Forget(payload.AppointmentID)
		default:
			logger.Warn("unexpected topic", "topic", msg.Topic)
		}
		return nil
	}
}
