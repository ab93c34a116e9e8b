package appointment

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/clock"
	"github.com/hackgods/booking-queue-engine/internal/config"
	"github.com/hackgods/booking-queue-engine/internal/events"
	"github.com/hackgods/booking-queue-engine/internal/metrics"
)

var startAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

const sweepBatchSize = 100

type Service struct {
	repo      Repository
	publisher events.Publisher
	metrics   *metrics.Metrics
	cfg       config.Scheduling
	now       clock.Func
}

type Option func(*Service)

func WithClock(now clock.Func) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo Repository, publisher events.Publisher, cfg config.Scheduling, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		repo:      repo,
		publisher: events.Async(publisher),
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	EstablishmentID uuid.UUID
	ProfessionalID  uuid.UUID
	ServiceID       uuid.UUID
	UserID          uuid.UUID
	StartAt         string
}

// Create books a professional for one service duration starting at StartAt.
// The per-professional lock and the FOR UPDATE over overlapping rows make the
// conflict check and the insert atomic against concurrent bookings.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	startAt, err := s.parseStartAt(in.StartAt)
	if err != nil {
		s.metrics.ObserveBooking(metrics.ResultInvalid)
		return nil, err
	}

	var created *Appointment

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		svc, err := tx.GetService(ctx, in.ServiceID)
		if err != nil {
			return fmt.Errorf("load service: %w", err)
		}
		if svc.DurationMinutes <= 0 {
			return ErrInvalidServiceDuration
		}
		endAt := startAt.Add(svc.Duration())

		if err := tx.LockProfessional(ctx, in.ProfessionalID); err != nil {
			return fmt.Errorf("lock professional calendar: %w", err)
		}

		existing, err := tx.LockOverlapping(ctx, in.ProfessionalID, startAt, endAt)
		if err != nil {
			return fmt.Errorf("check overlapping appointments: %w", err)
		}
		if len(existing) > 0 {
			return ErrAppointmentConflict
		}

		appt, err := tx.Insert(ctx, Appointment{
			ID:              uuid.New(),
			EstablishmentID: in.EstablishmentID,
			ProfessionalID:  in.ProfessionalID,
			ServiceID:       in.ServiceID,
			UserID:          in.UserID,
			StartAt:         startAt,
			EndAt:           endAt,
			Status:          StatusBooked,
		})
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		s.metrics.ObserveBooking(metrics.ResultFor(err))
		return nil, err
	}

	s.metrics.ObserveBooking(metrics.ResultOK)
	events.Emit(ctx, s.publisher, events.AppointmentCreated, newEventPayload(created))

	return created, nil
}

// CheckIn accepts the owner's arrival inside [start-graceBefore, start+graceAfter].
// Arriving after the window voids the booking: the no-show is committed and
// ErrCheckInWindowPassed is returned.
func (s *Service) CheckIn(ctx context.Context, id, userID uuid.UUID) (*Appointment, error) {
	now := s.now()

	var (
		updated      *Appointment
		windowPassed bool
	)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if appt.UserID != userID {
			return ErrNotAppointmentOwner
		}
		checkedIn, ok := nextStatus(actionCheckIn, appt.Status)
		if !ok {
			return fmt.Errorf("%w: %s from %s", ErrInvalidStatusTransition, actionCheckIn, appt.Status)
		}

		opens := appt.StartAt.Add(-s.cfg.GraceBefore)
		closes := appt.StartAt.Add(s.cfg.GraceAfter)

		if now.Before(opens) {
			return ErrCheckInTooEarly
		}
		if now.After(closes) {
			noShow, ok := nextStatus(actionNoShow, appt.Status)
			if !ok {
				return fmt.Errorf("%w: %s from %s", ErrInvalidStatusTransition, actionNoShow, appt.Status)
			}
			windowPassed = true
			updated, err = tx.UpdateStatus(ctx, id, noShow, nil)
			return err
		}

		updated, err = tx.UpdateStatus(ctx, id, checkedIn, &now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if windowPassed {
		s.metrics.ObserveTransition(string(StatusNoShow))
		events.Emit(ctx, s.publisher, events.AppointmentNoShow, newEventPayload(updated))
		return nil, ErrCheckInWindowPassed
	}

	s.metrics.ObserveTransition(string(StatusCheckedIn))
	events.Emit(ctx, s.publisher, events.AppointmentCheckedIn, newEventPayload(updated))

	return updated, nil
}

// Cancel releases the owner's booked or checked-in appointment.
func (s *Service) Cancel(ctx context.Context, id, userID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, &userID, actionCancel, events.AppointmentCancelled)
}

// MarkNoShow and MarkCompleted are staff writes; authorization happens upstream.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, nil, actionNoShow, events.AppointmentNoShow)
}

func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, nil, actionComplete, events.AppointmentCompleted)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, owner *uuid.UUID, a action, eventType string) (*Appointment, error) {
	var updated *Appointment

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if owner != nil && appt.UserID != *owner {
			return ErrNotAppointmentOwner
		}

		to, ok := nextStatus(a, appt.Status)
		if !ok {
			return fmt.Errorf("%w: %s from %s", ErrInvalidStatusTransition, a, appt.Status)
		}

		updated, err = tx.UpdateStatus(ctx, id, to, appt.CheckinAt)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(updated.Status))
	events.Emit(ctx, s.publisher, eventType, newEventPayload(updated))

	return updated, nil
}

type SlotsQuery struct {
	ProfessionalID uuid.UUID
	ServiceID      uuid.UUID
	Date           string         // YYYY-MM-DD in the configured location
	Hours          *BusinessHours // empty fields fall back to the configured hours
}

// AvailableSlots lists the free service-length slots of a professional on a
// day. Nothing is cached; every call reads the calendar again.
func (s *Service) AvailableSlots(ctx context.Context, q SlotsQuery) ([]Slot, error) {
	day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(q.Date), s.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, q.Date)
	}

	hours := BusinessHours{Open: s.cfg.BusinessOpen, Close: s.cfg.BusinessClose}
	if q.Hours != nil && q.Hours.Open != "" {
		hours.Open = q.Hours.Open
	}
	if q.Hours != nil && q.Hours.Close != "" {
		hours.Close = q.Hours.Close
	}
	open, closing, err := hours.Bounds(day, s.cfg.Location)
	if err != nil {
		return nil, err
	}

	svc, err := s.repo.GetService(ctx, q.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if svc.DurationMinutes <= 0 {
		return nil, ErrInvalidServiceDuration
	}

	busy, err := s.repo.ListBlocking(ctx, q.ProfessionalID, open, closing)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	return GenerateSlots(open, closing, svc.Duration(), busy), nil
}

// ExpireMissedCheckIns marks booked appointments whose grace window has
// closed as no-shows. It is intended to be called by the worker periodically.
func (s *Service) ExpireMissedCheckIns(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.GraceAfter)

	candidates, err := s.repo.FindMissedCheckIns(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find missed check-ins: %w", err)
	}

	expired := 0
	for _, appt := range candidates {
		var updated *Appointment
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			locked, err := tx.LockAppointment(ctx, appt.ID)
			if err != nil {
				return err
			}
			// Checked in or cancelled since the scan.
			if locked.Status != StatusBooked {
				return nil
			}
			to, ok := nextStatus(actionNoShow, locked.Status)
			if !ok {
				return nil
			}
			updated, err = tx.UpdateStatus(ctx, appt.ID, to, nil)
			return err
		})
		if err != nil {
			log.Printf("failed to expire appointment %s: %v", appt.ID, err)
			continue
		}
		if updated == nil {
			continue
		}
		expired++
		s.metrics.ObserveTransition(string(StatusNoShow))
		events.Emit(ctx, s.publisher, events.AppointmentNoShow, newEventPayload(updated))
	}

	return expired, nil
}

// Get retrieves an appointment by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// List retrieves appointments matching filter
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20 // default
	}
	if filter.Limit > 100 {
		filter.Limit = 100 // max
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	appointments, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

func (s *Service) parseStartAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidStartAt
	}
	for _, layout := range startAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, s.cfg.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidStartAt, raw)
}

type eventPayload struct {
	AppointmentID   uuid.UUID  `json:"appointment_id"`
	EstablishmentID uuid.UUID  `json:"establishment_id"`
	ProfessionalID  uuid.UUID  `json:"professional_id"`
	UserID          uuid.UUID  `json:"user_id"`
	Status          string     `json:"status"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           time.Time  `json:"end_at"`
	CheckinAt       *time.Time `json:"checkin_at,omitempty"`
}

func newEventPayload(a *Appointment) eventPayload {
	return eventPayload{
		AppointmentID:   a.ID,
		EstablishmentID: a.EstablishmentID,
		ProfessionalID:  a.ProfessionalID,
		UserID:          a.UserID,
		Status:          string(a.Status),
		StartAt:         a.StartAt,
		EndAt:           a.EndAt,
		CheckinAt:       a.CheckinAt,
	}
}
