package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/clock"
	"github.com/hackgods/booking-queue-engine/internal/config"
	"github.com/hackgods/booking-queue-engine/internal/events"
	"github.com/hackgods/booking-queue-engine/internal/metrics"
)

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
	if cfg.DefaultServiceDuration <= 0 {
		cfg.DefaultServiceDuration = 15 * time.Minute
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

type JoinInput struct {
	QueueID  uuid.UUID
	UserID   *uuid.UUID
	Priority int
}

// Join appends a waiting entry at the queue's next position. Positions are
// derived from MAX(position) under the queue lock, so concurrent joiners get
// distinct, gap-free positions.
func (s *Service) Join(ctx context.Context, in JoinInput) (*JoinResult, error) {
	if in.Priority < 0 {
		s.metrics.ObserveJoin(metrics.ResultInvalid, 0)
		return nil, ErrInvalidPriority
	}

	var (
		q     *Queue
		entry *Entry
	)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		q, err = tx.LockQueue(ctx, in.QueueID)
		if err != nil {
			return err
		}
		if q.Status != QueueOpen {
			return ErrQueueClosed
		}

		position, err := tx.NextPosition(ctx, q.ID)
		if err != nil {
			return fmt.Errorf("next position: %w", err)
		}

		entry, err = tx.InsertEntry(ctx, Entry{
			ID:        uuid.New(),
			QueueID:   q.ID,
			UserID:    in.UserID,
			Position:  position,
			Status:    EntryWaiting,
			Priority:  in.Priority,
			CreatedAt: s.now(),
		})
		if err != nil {
			return fmt.Errorf("insert queue entry: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.ObserveJoin(metrics.ResultFor(err), 0)
		return nil, err
	}

	wait := (entry.Position - 1) * s.serviceMinutes(ctx, q)
	s.metrics.ObserveJoin(metrics.ResultOK, wait)

	events.Emit(ctx, s.publisher, events.QueueJoined, joinedPayload{
		QueueID:              q.ID,
		EstablishmentID:      q.EstablishmentID,
		EntryID:              entry.ID,
		UserID:               entry.UserID,
		Position:             entry.Position,
		Priority:             entry.Priority,
		EstimatedWaitMinutes: wait,
	})

	return &JoinResult{Entry: *entry, EstimatedWaitMinutes: wait}, nil
}

type CallNextInput struct {
	QueueID         uuid.UUID
	EstablishmentID *uuid.UUID
	ProfessionalID  *uuid.UUID
}

// CallNext picks who is served next. A checked-in appointment of the given
// professional inside its grace window goes first; otherwise the head of the
// queue by (priority DESC, created_at ASC) is called. Returns nil when there
// is nobody to call.
func (s *Service) CallNext(ctx context.Context, in CallNextInput) (*CallResult, error) {
	now := s.now()

	var result *CallResult

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetQueue(ctx, in.QueueID); err != nil {
			return err
		}

		if in.EstablishmentID != nil && in.ProfessionalID != nil {
			appt, err := tx.LockCheckedInAppointment(ctx, *in.EstablishmentID, *in.ProfessionalID,
				now.Add(-s.cfg.GraceBefore), now.Add(s.cfg.GraceAfter))
			if err != nil {
				return fmt.Errorf("find checked-in appointment: %w", err)
			}
			if appt != nil {
				if !appointment.Startable(appt.Status) {
					return fmt.Errorf("%w: start from %s", appointment.ErrInvalidStatusTransition, appt.Status)
				}
				started, err := tx.StartAppointment(ctx, appt.ID)
				if err != nil {
					return fmt.Errorf("start appointment: %w", err)
				}
				result = &CallResult{Kind: CallAppointment, Appointment: started}
				return nil
			}
		}

		head, err := tx.LockHead(ctx, in.QueueID)
		if err != nil {
			return fmt.Errorf("lock queue head: %w", err)
		}
		if head == nil {
			return nil
		}

		called, err := tx.UpdateEntryStatus(ctx, head.ID, EntryCalled, now)
		if err != nil {
			return fmt.Errorf("call entry: %w", err)
		}
		result = &CallResult{Kind: CallQueueEntry, Entry: called}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result == nil {
		s.metrics.ObserveCall("empty")
		return nil, nil
	}

	s.metrics.ObserveCall(string(result.Kind))
	switch result.Kind {
	case CallAppointment:
		events.Emit(ctx, s.publisher, events.AppointmentStarted, calledPayload{
			QueueID:       in.QueueID,
			Kind:          string(result.Kind),
			AppointmentID: &result.Appointment.ID,
			UserID:        &result.Appointment.UserID,
		})
	case CallQueueEntry:
		events.Emit(ctx, s.publisher, events.QueueCalled, calledPayload{
			QueueID:  in.QueueID,
			Kind:     string(result.Kind),
			EntryID:  &result.Entry.ID,
			UserID:   result.Entry.UserID,
			Position: result.Entry.Position,
		})
	}

	return result, nil
}

// Leave cancels the user's own waiting or called entry.
func (s *Service) Leave(ctx context.Context, entryID, userID uuid.UUID) (*Entry, error) {
	entry, err := s.transition(ctx, entryID, &userID, EntryCancelled)
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.publisher, events.QueueLeft, calledPayload{
		QueueID:  entry.QueueID,
		EntryID:  &entry.ID,
		UserID:   entry.UserID,
		Position: entry.Position,
	})
	return entry, nil
}

// MarkServed and MarkNoShow close a called entry on behalf of staff.
func (s *Service) MarkServed(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	return s.transition(ctx, entryID, nil, EntryServed)
}

func (s *Service) MarkNoShow(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	return s.transition(ctx, entryID, nil, EntryNoShow)
}

func (s *Service) transition(ctx context.Context, entryID uuid.UUID, owner *uuid.UUID, to EntryStatus) (*Entry, error) {
	var updated *Entry

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		entry, err := tx.LockEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if owner != nil && (entry.UserID == nil || *entry.UserID != *owner) {
			return ErrNotEntryOwner
		}
		if !ValidTransition(entry.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, entry.Status, to)
		}

		updated, err = tx.UpdateEntryStatus(ctx, entryID, to, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveEntryTransition(string(to))
	return updated, nil
}

// Open and Close flip the queue status; it is the only queue mutation the
// engine performs.
func (s *Service) Open(ctx context.Context, queueID uuid.UUID) (*Queue, error) {
	return s.setStatus(ctx, queueID, QueueOpen)
}

func (s *Service) Close(ctx context.Context, queueID uuid.UUID) (*Queue, error) {
	return s.setStatus(ctx, queueID, QueueClosed)
}

func (s *Service) setStatus(ctx context.Context, queueID uuid.UUID, status QueueStatus) (*Queue, error) {
	var q *Queue
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockQueue(ctx, queueID)
		if err != nil {
			return err
		}
		if locked.Status == status {
			q = locked
			return nil
		}
		q, err = tx.SetQueueStatus(ctx, queueID, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Status is a lock-free snapshot for display.
func (s *Service) Status(ctx context.Context, queueID uuid.UUID, userID *uuid.UUID) (*StatusView, error) {
	q, err := s.repo.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}

	total, err := s.repo.CountWaiting(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("count waiting: %w", err)
	}

	view := &StatusView{
		QueueID:      q.ID,
		QueueStatus:  q.Status,
		TotalWaiting: total,
	}
	if userID == nil {
		return view, nil
	}

	entry, err := s.repo.FindActiveEntry(ctx, queueID, *userID)
	if errors.Is(err, ErrEntryNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user entry: %w", err)
	}

	ahead := 0
	if entry.Status == EntryWaiting {
		ahead, err = s.repo.CountWaitingAhead(ctx, *entry)
		if err != nil {
			return nil, fmt.Errorf("count entries ahead: %w", err)
		}
	}

	position := entry.Position
	wait := ahead * s.serviceMinutes(ctx, q)
	view.UserPosition = &position
	view.EstimatedWaitMinutes = &wait

	return view, nil
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetEntry(ctx, id)
}

// ListWaiting returns the waiting entries in call order.
func (s *Service) ListWaiting(ctx context.Context, queueID uuid.UUID) ([]Entry, error) {
	if _, err := s.repo.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, queueID, []EntryStatus{EntryWaiting})
}

func (s *Service) serviceMinutes(ctx context.Context, q *Queue) int {
	def := int(s.cfg.DefaultServiceDuration / time.Minute)
	if q.ServiceID == nil {
		return def
	}
	minutes, err := s.repo.GetServiceDuration(ctx, *q.ServiceID)
	if err != nil {
		if !errors.Is(err, ErrServiceNotFound) {
			log.Printf("failed to load service %s duration for queue %s: %v", *q.ServiceID, q.ID, err)
		}
		return def
	}
	if minutes <= 0 {
		return def
	}
	return minutes
}

type joinedPayload struct {
	QueueID              uuid.UUID  `json:"queue_id"`
	EstablishmentID      uuid.UUID  `json:"establishment_id"`
	EntryID              uuid.UUID  `json:"entry_id"`
	UserID               *uuid.UUID `json:"user_id,omitempty"`
	Position             int        `json:"position"`
	Priority             int        `json:"priority"`
	EstimatedWaitMinutes int        `json:"estimated_wait_minutes"`
}

type calledPayload struct {
	QueueID       uuid.UUID  `json:"queue_id"`
	Kind          string     `json:"kind,omitempty"`
	EntryID       *uuid.UUID `json:"entry_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	Position      int        `json:"position,omitempty"`
}
