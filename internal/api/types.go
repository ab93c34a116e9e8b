package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/queue"
)

type CreateAppointmentRequest struct {
	EstablishmentID string `json:"establishment_id"`
	ProfessionalID  string `json:"professional_id"`
	ServiceID       string `json:"service_id"`
	UserID          string `json:"user_id"`
	StartAt         string `json:"start_at"`
}

// UserRequest carries the acting user for owner-only actions.
type UserRequest struct {
	UserID string `json:"user_id"`
}

type JoinQueueRequest struct {
	UserID   string `json:"user_id,omitempty"`
	Priority int    `json:"priority"`
}

type CallNextRequest struct {
	EstablishmentID string `json:"establishment_id,omitempty"`
	ProfessionalID  string `json:"professional_id,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	EstablishmentID uuid.UUID  `json:"establishment_id"`
	ProfessionalID  uuid.UUID  `json:"professional_id"`
	ServiceID       uuid.UUID  `json:"service_id"`
	UserID          uuid.UUID  `json:"user_id"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           time.Time  `json:"end_at"`
	Status          string     `json:"status"`
	CheckinAt       *time.Time `json:"checkin_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type EntryResponse struct {
	ID                   uuid.UUID  `json:"id"`
	QueueID              uuid.UUID  `json:"queue_id"`
	UserID               *uuid.UUID `json:"user_id,omitempty"`
	Position             int        `json:"position"`
	Status               string     `json:"status"`
	Priority             int        `json:"priority"`
	CreatedAt            time.Time  `json:"created_at"`
	CalledAt             *time.Time `json:"called_at,omitempty"`
	ServedAt             *time.Time `json:"served_at,omitempty"`
	EstimatedWaitMinutes *int       `json:"estimated_wait_minutes,omitempty"`
}

type QueueResponse struct {
	ID              uuid.UUID  `json:"id"`
	EstablishmentID uuid.UUID  `json:"establishment_id"`
	ServiceID       *uuid.UUID `json:"service_id,omitempty"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
}

type QueueStatusResponse struct {
	QueueID              uuid.UUID `json:"queue_id"`
	QueueStatus          string    `json:"queue_status"`
	TotalWaiting         int       `json:"total_waiting"`
	UserPosition         *int      `json:"user_position,omitempty"`
	EstimatedWaitMinutes *int      `json:"estimated_wait_minutes,omitempty"`
}

type CallNextResponse struct {
	Kind        string               `json:"kind"`
	Appointment *AppointmentResponse `json:"appointment,omitempty"`
	Entry       *EntryResponse       `json:"entry,omitempty"`
}

type SlotResponse struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		EstablishmentID: a.EstablishmentID,
		ProfessionalID:  a.ProfessionalID,
		ServiceID:       a.ServiceID,
		UserID:          a.UserID,
		StartAt:         a.StartAt,
		EndAt:           a.EndAt,
		Status:          string(a.Status),
		CheckinAt:       a.CheckinAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toEntryResponse(e *queue.Entry) EntryResponse {
	return EntryResponse{
		ID:        e.ID,
		QueueID:   e.QueueID,
		UserID:    e.UserID,
		Position:  e.Position,
		Status:    string(e.Status),
		Priority:  e.Priority,
		CreatedAt: e.CreatedAt,
		CalledAt:  e.CalledAt,
		ServedAt:  e.ServedAt,
	}
}

func toQueueResponse(q *queue.Queue) QueueResponse {
	return QueueResponse{
		ID:              q.ID,
		EstablishmentID: q.EstablishmentID,
		ServiceID:       q.ServiceID,
		Name:            q.Name,
		Status:          string(q.Status),
	}
}
