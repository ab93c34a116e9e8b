package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
)

// Repository contains all DB interactions needed by the service.
// Reads outside WithTx take no locks.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	GetServiceDuration(ctx context.Context, serviceID uuid.UUID) (int, error)

	// For status views
	CountWaiting(ctx context.Context, queueID uuid.UUID) (int, error)
	CountWaitingAhead(ctx context.Context, entry Entry) (int, error)
	// Latest waiting or called entry of the user; ErrEntryNotFound when none.
	FindActiveEntry(ctx context.Context, queueID, userID uuid.UUID) (*Entry, error)
	ListEntries(ctx context.Context, queueID uuid.UUID, statuses []EntryStatus) ([]Entry, error)
}

// Tx is one store transaction. Locks taken through it are held until the
// transaction commits or rolls back.
type Tx interface {
	GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error)
	// LockQueue locks the queue row; joiners serialize here, so the tail
	// position read afterwards is current.
	LockQueue(ctx context.Context, id uuid.UUID) (*Queue, error)
	SetQueueStatus(ctx context.Context, id uuid.UUID, status QueueStatus) (*Queue, error)

	// NextPosition is MAX(position)+1, or 1 for an empty queue. Callers must
	// hold the queue lock.
	NextPosition(ctx context.Context, queueID uuid.UUID) (int, error)
	InsertEntry(ctx context.Context, e Entry) (*Entry, error)

	// LockHead serializes call-next on a queue and locks its first waiting
	// entry. Returns nil when nothing is waiting.
	LockHead(ctx context.Context, queueID uuid.UUID) (*Entry, error)
	LockEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	// UpdateEntryStatus stamps called_at or served_at when moving to those statuses.
	UpdateEntryStatus(ctx context.Context, id uuid.UUID, to EntryStatus, at time.Time) (*Entry, error)

	// LockCheckedInAppointment serializes on the professional's calendar and
	// locks the earliest checked-in appointment starting in [from, to].
	// Returns nil when there is none.
	LockCheckedInAppointment(ctx context.Context, establishmentID, professionalID uuid.UUID, from, to time.Time) (*appointment.Appointment, error)
	StartAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}
