package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusBooked     AppointmentStatus = "booked"
	StatusCheckedIn  AppointmentStatus = "checked_in"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusNoShow     AppointmentStatus = "no_show"
	StatusCancelled  AppointmentStatus = "cancelled"
)

// Blocking reports whether an appointment in this status still occupies its
// professional's calendar.
func (s AppointmentStatus) Blocking() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// ServiceInfo is the part of a service the engine reads.
type ServiceInfo struct {
	ID              uuid.UUID
	Name            string
	DurationMinutes int
}

func (s ServiceInfo) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Appointment struct {
	ID              uuid.UUID
	EstablishmentID uuid.UUID
	ProfessionalID  uuid.UUID
	ServiceID       uuid.UUID
	UserID          uuid.UUID
	StartAt         time.Time
	EndAt           time.Time
	Status          AppointmentStatus
	CheckinAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Overlaps reports whether a occupies any instant of [start, end).
// Back-to-back intervals do not overlap.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return Overlaps(a.StartAt, a.EndAt, start, end)
}

// Overlaps is the half-open interval test shared by booking and slot listing.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

type Slot struct {
	StartAt time.Time
	EndAt   time.Time
}

// ListFilter narrows List queries. Zero values are ignored.
type ListFilter struct {
	EstablishmentID *uuid.UUID
	ProfessionalID  *uuid.UUID
	UserID          *uuid.UUID
	Status          []AppointmentStatus
	From            *time.Time
	To              *time.Time
	Limit           int
	Offset          int
}
