package queue

import "github.com/hackgods/booking-queue-engine/internal/apperror"

var (
	ErrQueueNotFound     = apperror.New(apperror.NotFound, "queue not found")
	ErrEntryNotFound     = apperror.New(apperror.NotFound, "queue entry not found")
	ErrServiceNotFound   = apperror.New(apperror.NotFound, "service not found")
	ErrQueueClosed       = apperror.New(apperror.Conflict, "queue is closed")
	ErrInvalidPriority   = apperror.New(apperror.InvalidInput, "priority must be zero or greater")
	ErrNotEntryOwner     = apperror.New(apperror.Unauthorized, "queue entry belongs to another user")
	ErrInvalidTransition = apperror.New(apperror.InvalidState, "invalid queue entry status transition")
)
