package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/queue"
)

type QueueRepository struct {
	store *Store
}

var _ queue.Repository = (*QueueRepository)(nil)

func (r *QueueRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx queue.Tx) error) error {
	state := r.store.begin()
	return state.run(func() error {
		return fn(ctx, &queueTx{state: state})
	})
}

func (r *QueueRepository) GetQueue(_ context.Context, id uuid.UUID) (*queue.Queue, error) {
	return r.store.getQueue(id)
}

func (r *QueueRepository) GetEntry(_ context.Context, id uuid.UUID) (*queue.Entry, error) {
	return r.store.getEntry(id)
}

func (r *QueueRepository) GetServiceDuration(_ context.Context, serviceID uuid.UUID) (int, error) {
	svc, err := r.store.getService(serviceID)
	if err != nil {
		return 0, queue.ErrServiceNotFound
	}
	return svc.DurationMinutes, nil
}

func (r *QueueRepository) CountWaiting(_ context.Context, queueID uuid.UUID) (int, error) {
	return len(r.store.entriesWith(queueID, queue.EntryWaiting)), nil
}

func (r *QueueRepository) CountWaitingAhead(_ context.Context, entry queue.Entry) (int, error) {
	n := 0
	for _, e := range r.store.entriesWith(entry.QueueID, queue.EntryWaiting) {
		if e.ID != entry.ID && e.Ahead(entry) {
			n++
		}
	}
	return n, nil
}

func (r *QueueRepository) FindActiveEntry(_ context.Context, queueID, userID uuid.UUID) (*queue.Entry, error) {
	var found *queue.Entry
	for _, e := range r.store.entriesWith(queueID, queue.EntryWaiting, queue.EntryCalled) {
		if e.UserID == nil || *e.UserID != userID {
			continue
		}
		if found == nil || e.Position > found.Position {
			e := e
			found = &e
		}
	}
	if found == nil {
		return nil, queue.ErrEntryNotFound
	}
	return found, nil
}

func (r *QueueRepository) ListEntries(_ context.Context, queueID uuid.UUID, statuses []queue.EntryStatus) ([]queue.Entry, error) {
	out := r.store.entriesWith(queueID, statuses...)
	sortEntries(out, callOrder)
	return out, nil
}

type queueTx struct {
	state *txState
}

func (t *queueTx) GetQueue(_ context.Context, id uuid.UUID) (*queue.Queue, error) {
	return t.state.store.getQueue(id)
}

func (t *queueTx) LockQueue(ctx context.Context, id uuid.UUID) (*queue.Queue, error) {
	if _, err := t.state.store.getQueue(id); err != nil {
		return nil, err
	}
	if err := t.state.lock(ctx, queueKey(id)); err != nil {
		return nil, err
	}
	return t.state.store.getQueue(id)
}

func (t *queueTx) SetQueueStatus(_ context.Context, id uuid.UUID, status queue.QueueStatus) (*queue.Queue, error) {
	s := t.state.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.queues[id]
	if !ok {
		return nil, queue.ErrQueueNotFound
	}
	next := prev
	next.Status = status
	next.UpdatedAt = s.now()
	s.queues[id] = next
	t.state.record(func() { s.queues[id] = prev })
	return &next, nil
}

func (t *queueTx) NextPosition(_ context.Context, queueID uuid.UUID) (int, error) {
	s := t.state.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := 0
	for _, e := range s.entries {
		if e.QueueID == queueID && e.Position > last {
			last = e.Position
		}
	}
	return last + 1, nil
}

func (t *queueTx) InsertEntry(_ context.Context, e queue.Entry) (*queue.Entry, error) {
	s := t.state.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[e.QueueID]; !ok {
		return nil, queue.ErrQueueNotFound
	}
	for _, other := range s.entries {
		if other.QueueID == e.QueueID && other.Position == e.Position {
			return nil, ErrDuplicatePosition
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.entries[e.ID] = e
	t.state.record(func() { delete(s.entries, e.ID) })
	return &e, nil
}

// LockHead retries when the chosen head stopped waiting while we were
// blocked on its row lock.
func (t *queueTx) LockHead(ctx context.Context, queueID uuid.UUID) (*queue.Entry, error) {
	if err := t.state.lock(ctx, queueHeadKey(queueID)); err != nil {
		return nil, err
	}

	for {
		head := t.state.store.head(queueID)
		if head == nil {
			return nil, nil
		}
		if err := t.state.lock(ctx, entryKey(head.ID)); err != nil {
			return nil, err
		}
		current, err := t.state.store.getEntry(head.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == queue.EntryWaiting {
			return current, nil
		}
	}
}

func (t *queueTx) LockEntry(ctx context.Context, id uuid.UUID) (*queue.Entry, error) {
	if _, err := t.state.store.getEntry(id); err != nil {
		return nil, err
	}
	if err := t.state.lock(ctx, entryKey(id)); err != nil {
		return nil, err
	}
	return t.state.store.getEntry(id)
}

func (t *queueTx) UpdateEntryStatus(_ context.Context, id uuid.UUID, to queue.EntryStatus, at time.Time) (*queue.Entry, error) {
	s := t.state.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[id]
	if !ok {
		return nil, queue.ErrEntryNotFound
	}
	next := prev
	next.Status = to
	switch to {
	case queue.EntryCalled:
		stamp := at
		next.CalledAt = &stamp
	case queue.EntryServed:
		stamp := at
		next.ServedAt = &stamp
	}
	s.entries[id] = next
	t.state.record(func() { s.entries[id] = prev })
	return &next, nil
}

func (t *queueTx) LockCheckedInAppointment(ctx context.Context, establishmentID, professionalID uuid.UUID, from, to time.Time) (*appointment.Appointment, error) {
	if err := t.state.lock(ctx, professionalKey(professionalID)); err != nil {
		return nil, err
	}

	for {
		candidate := t.state.store.earliestCheckedIn(establishmentID, professionalID, from, to)
		if candidate == nil {
			return nil, nil
		}
		if err := t.state.lock(ctx, appointmentKey(candidate.ID)); err != nil {
			return nil, err
		}
		current, err := t.state.store.getAppointment(candidate.ID)
		if err != nil {
			return nil, err
		}
		if appointment.Startable(current.Status) {
			return current, nil
		}
	}
}

func (t *queueTx) StartAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return t.state.updateAppointment(id, func(a *appointment.Appointment) bool {
		if !appointment.Startable(a.Status) {
			return false
		}
		a.Status = appointment.StatusInProgress
		return true
	})
}

// Shared table access

func (s *Store) getQueue(id uuid.UUID) (*queue.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[id]
	if !ok {
		return nil, queue.ErrQueueNotFound
	}
	return &q, nil
}

func (s *Store) getEntry(id uuid.UUID) (*queue.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, queue.ErrEntryNotFound
	}
	return &e, nil
}

func (s *Store) entriesWith(queueID uuid.UUID, statuses ...queue.EntryStatus) []queue.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]queue.Entry, 0)
	for _, e := range s.entries {
		if e.QueueID != queueID {
			continue
		}
		for _, st := range statuses {
			if e.Status == st {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (s *Store) head(queueID uuid.UUID) *queue.Entry {
	var head *queue.Entry
	for _, e := range s.entriesWith(queueID, queue.EntryWaiting) {
		if head == nil || e.Ahead(*head) {
			e := e
			head = &e
		}
	}
	return head
}

func (s *Store) earliestCheckedIn(establishmentID, professionalID uuid.UUID, from, to time.Time) *appointment.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *appointment.Appointment
	for _, a := range s.appointments {
		if a.EstablishmentID != establishmentID || a.ProfessionalID != professionalID {
			continue
		}
		if !appointment.Startable(a.Status) {
			continue
		}
		if a.StartAt.Before(from) || a.StartAt.After(to) {
			continue
		}
		if found == nil || a.StartAt.Before(found.StartAt) {
			a := a
			found = &a
		}
	}
	return found
}
