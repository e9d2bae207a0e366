package model

import "errors"

var (
	ErrInvalidInterval = errors.New("end must be after start")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("time slot already booked")
	ErrPlanInactive    = errors.New("plan is not active")
	ErrInvalidStatus   = errors.New("invalid status transition")
)
