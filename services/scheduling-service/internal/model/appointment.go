package model

import "time"

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Appointment is a booked time block on [StartTime, EndTime).
type Appointment struct {
	ID                   string
	PatientID            string
	ProfessionalID       *string
	ResourceID           *string
	StartTime            time.Time
	EndTime              time.Time
	Title                string
	Status               Status
	NotificationsEnabled bool
	NotificationSent     bool
	NotifyAttempts       int
	SessionID            *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// StoredInstant truncates t to the microsecond precision the store keeps, so
// in-memory copies compare equal to what a later read returns.
func StoredInstant(t time.Time) time.Time {
	return t.Truncate(time.Microsecond)
}

func (a Appointment) Cancelled() bool {
	return a.Status == StatusCancelled
}

// Update carries the mutable fields of an appointment. Nil fields are left untouched.
type Update struct {
	StartTime            *time.Time
	EndTime              *time.Time
	Status               *Status
	NotificationsEnabled *bool
	// ResetNotification clears the sent flag and the attempt counter, used when the
	// appointment moves and the patient needs a reminder for the new time.
	ResetNotification bool
}

// Filter narrows range listings. Empty fields match everything.
type Filter struct {
	ProfessionalID   string
	ResourceID       string
	PatientID        string
	IncludeCancelled bool
}

// ReminderDetails is the appointment joined with the display data a reminder needs.
type ReminderDetails struct {
	Appointment      Appointment
	PatientName      string
	PatientPhone     string
	ProfessionalName string
}

func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
