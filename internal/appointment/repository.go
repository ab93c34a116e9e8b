package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/apperror"
)

var (
	ErrServiceNotFound     = apperror.New(apperror.NotFound, "service not found")
	ErrAppointmentNotFound = apperror.New(apperror.NotFound, "appointment not found")
)

// Repository contains all DB interactions needed by the service.
// Reads outside WithTx take no locks.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetService(ctx context.Context, id uuid.UUID) (*ServiceInfo, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Blocking appointments of a professional intersecting [from, to).
	ListBlocking(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error)
	List(ctx context.Context, filter ListFilter) ([]Appointment, error)

	// Sweeper
	FindMissedCheckIns(ctx context.Context, startedBefore time.Time, limit int) ([]Appointment, error)
}

// Tx is one store transaction. Locks taken through it are held until the
// transaction commits or rolls back.
type Tx interface {
	GetService(ctx context.Context, id uuid.UUID) (*ServiceInfo, error)

	// LockProfessional serializes calendar writes for one professional, even
	// when no appointment rows exist yet to lock.
	LockProfessional(ctx context.Context, professionalID uuid.UUID) error
	// LockOverlapping locks and returns blocking appointments intersecting [start, end).
	LockOverlapping(ctx context.Context, professionalID uuid.UUID, start, end time.Time) ([]Appointment, error)

	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Insert(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus, checkinAt *time.Time) (*Appointment, error)
}
