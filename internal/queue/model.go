package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
)

type QueueStatus string

const (
	QueueOpen   QueueStatus = "open"
	QueueClosed QueueStatus = "closed"
)

type EntryStatus string

const (
	EntryWaiting   EntryStatus = "waiting"
	EntryCalled    EntryStatus = "called"
	EntryServed    EntryStatus = "served"
	EntryNoShow    EntryStatus = "no_show"
	EntryCancelled EntryStatus = "cancelled"
)

type Queue struct {
	ID              uuid.UUID
	EstablishmentID uuid.UUID
	ServiceID       *uuid.UUID
	Name            string
	Status          QueueStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Entry struct {
	ID        uuid.UUID
	QueueID   uuid.UUID
	UserID    *uuid.UUID
	Position  int
	Status    EntryStatus
	Priority  int
	CreatedAt time.Time
	CalledAt  *time.Time
	ServedAt  *time.Time
}

// Ahead reports whether e is called before other: priority DESC, then
// created_at ASC, then position ASC.
func (e Entry) Ahead(other Entry) bool {
	if e.Priority != other.Priority {
		return e.Priority > other.Priority
	}
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.Position < other.Position
}

// JoinResult is the inserted entry plus a wait estimate that is never stored.
type JoinResult struct {
	Entry
	EstimatedWaitMinutes int
}

type CallKind string

const (
	CallAppointment CallKind = "appointment"
	CallQueueEntry  CallKind = "queue_entry"
)

// CallResult carries exactly one of Appointment or Entry, according to Kind.
type CallResult struct {
	Kind        CallKind
	Appointment *appointment.Appointment
	Entry       *Entry
}

type StatusView struct {
	QueueID              uuid.UUID
	QueueStatus          QueueStatus
	TotalWaiting         int
	UserPosition         *int
	EstimatedWaitMinutes *int
}
