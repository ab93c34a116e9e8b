package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
)

type AppointmentRepository struct {
	store *Store
}

var _ appointment.Repository = (*AppointmentRepository)(nil)

func (r *AppointmentRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx appointment.Tx) error) error {
	state := r.store.begin()
	return state.run(func() error {
		return fn(ctx, &appointmentTx{state: state})
	})
}

func (r *AppointmentRepository) GetService(_ context.Context, id uuid.UUID) (*appointment.ServiceInfo, error) {
	return r.store.getService(id)
}

func (r *AppointmentRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return r.store.getAppointment(id)
}

func (r *AppointmentRepository) ListBlocking(_ context.Context, professionalID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	return r.store.blocking(professionalID, from, to), nil
}

func (r *AppointmentRepository) List(_ context.Context, filter appointment.ListFilter) ([]appointment.Appointment, error) {
	r.store.mu.RLock()
	var out []appointment.Appointment
	for _, a := range r.store.appointments {
		if matches(a, filter) {
			out = append(out, a)
		}
	}
	r.store.mu.RUnlock()

	sortAppointments(out)

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []appointment.Appointment{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	if out == nil {
		out = []appointment.Appointment{}
	}
	return out, nil
}

func (r *AppointmentRepository) FindMissedCheckIns(_ context.Context, startedBefore time.Time, limit int) ([]appointment.Appointment, error) {
	r.store.mu.RLock()
	var out []appointment.Appointment
	for _, a := range r.store.appointments {
		if a.Status == appointment.StatusBooked && a.StartAt.Before(startedBefore) {
			out = append(out, a)
		}
	}
	r.store.mu.RUnlock()

	sortAppointments(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(a appointment.Appointment, f appointment.ListFilter) bool {
	if f.EstablishmentID != nil && a.EstablishmentID != *f.EstablishmentID {
		return false
	}
	if f.ProfessionalID != nil && a.ProfessionalID != *f.ProfessionalID {
		return false
	}
	if f.UserID != nil && a.UserID != *f.UserID {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && a.StartAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.StartAt.Before(*f.To) {
		return false
	}
	return true
}

type appointmentTx struct {
	state *txState
}

func (t *appointmentTx) GetService(_ context.Context, id uuid.UUID) (*appointment.ServiceInfo, error) {
	return t.state.store.getService(id)
}

func (t *appointmentTx) LockProfessional(ctx context.Context, professionalID uuid.UUID) error {
	return t.state.lock(ctx, professionalKey(professionalID))
}

// LockOverlapping locks every overlapping row, then re-reads them so rows
// that stopped blocking while we waited are dropped.
func (t *appointmentTx) LockOverlapping(ctx context.Context, professionalID uuid.UUID, start, end time.Time) ([]appointment.Appointment, error) {
	candidates := t.state.store.blocking(professionalID, start, end)
	for _, a := range candidates {
		if err := t.state.lock(ctx, appointmentKey(a.ID)); err != nil {
			return nil, err
		}
	}
	return t.state.store.blocking(professionalID, start, end), nil
}

func (t *appointmentTx) LockAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if _, err := t.state.store.getAppointment(id); err != nil {
		return nil, err
	}
	if err := t.state.lock(ctx, appointmentKey(id)); err != nil {
		return nil, err
	}
	return t.state.store.getAppointment(id)
}

func (t *appointmentTx) Insert(_ context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	return t.state.insertAppointment(a)
}

func (t *appointmentTx) UpdateStatus(_ context.Context, id uuid.UUID, to appointment.AppointmentStatus, checkinAt *time.Time) (*appointment.Appointment, error) {
	return t.state.updateAppointment(id, func(a *appointment.Appointment) bool {
		a.Status = to
		a.CheckinAt = checkinAt
		return true
	})
}

// Shared table access

func (s *Store) getService(id uuid.UUID) (*appointment.ServiceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return nil, appointment.ErrServiceNotFound
	}
	return &svc, nil
}

func (s *Store) getAppointment(id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *Store) blocking(professionalID uuid.UUID, from, to time.Time) []appointment.Appointment {
	s.mu.RLock()
	out := make([]appointment.Appointment, 0)
	for _, a := range s.appointments {
		if a.ProfessionalID == professionalID && a.Status.Blocking() && a.Overlaps(from, to) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sortAppointments(out)
	return out
}

func (t *txState) insertAppointment(a appointment.Appointment) (*appointment.Appointment, error) {
	s := t.store
	now := s.now()
	a.CreatedAt = now
	a.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	s.appointments[a.ID] = a
	t.record(func() { delete(s.appointments, a.ID) })
	return &a, nil
}

// updateAppointment applies fn to the stored row. fn returns false to leave
// the row untouched, in which case ErrAppointmentNotFound is returned.
func (t *txState) updateAppointment(id uuid.UUID, fn func(a *appointment.Appointment) bool) (*appointment.Appointment, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	next := prev
	if !fn(&next) {
		return nil, appointment.ErrAppointmentNotFound
	}
	next.UpdatedAt = s.now()
	s.appointments[id] = next
	t.record(func() { s.appointments[id] = prev })
	return &next, nil
}
