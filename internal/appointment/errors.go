package appointment

import "github.com/hackgods/booking-queue-engine/internal/apperror"

var (
	ErrInvalidStartAt          = apperror.New(apperror.InvalidInput, "start_at is not a valid datetime")
	ErrInvalidDate             = apperror.New(apperror.InvalidInput, "date must be YYYY-MM-DD")
	ErrInvalidBusinessHours    = apperror.New(apperror.InvalidInput, "business hours must be HH:MM with open before close")
	ErrInvalidServiceDuration  = apperror.New(apperror.InvalidState, "service duration must be positive")
	ErrAppointmentConflict     = apperror.New(apperror.Conflict, "professional already has an appointment in this time range")
	ErrNotAppointmentOwner     = apperror.New(apperror.Unauthorized, "appointment belongs to another user")
	ErrInvalidStatusTransition = apperror.New(apperror.InvalidState, "invalid status transition")
	ErrCheckInTooEarly         = apperror.New(apperror.InvalidState, "check-in window has not opened yet")
	ErrCheckInWindowPassed     = apperror.New(apperror.InvalidState, "check-in window has passed, appointment marked as no-show")
)
