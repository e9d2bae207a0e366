package model

type Plan struct {
	ID                string
	PatientID         string
	TargetSessions    int
	CompletedSessions int
	Active            bool
}

// Session is one planned encounter of a plan, optionally linked to an appointment.
type Session struct {
	ID            string
	PlanID        string
	Ordinal       int
	AppointmentID *string
	Completed     bool
	Notes         string
}

func (s Session) Pending() bool {
	return s.AppointmentID == nil
}
