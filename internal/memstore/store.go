// Package memstore is an in-process implementation of the appointment and
// queue repositories. It honors the same locking contract as the Postgres
// repositories: a lock taken through a Tx is held until commit or rollback,
// and rollback undoes every write made through that Tx.
//
// Uncommitted writes are visible to lock-free reads. Every write happens
// under the lock that guards it, so engines never act on them.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-queue-engine/internal/apperror"
	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/clock"
	"github.com/hackgods/booking-queue-engine/internal/keymutex"
	"github.com/hackgods/booking-queue-engine/internal/queue"
)

var ErrDuplicatePosition = apperror.New(apperror.Conflict, "queue position already taken")

type Store struct {
	locks *keymutex.KeyedMutex
	now   clock.Func

	mu           sync.RWMutex
	services     map[uuid.UUID]appointment.ServiceInfo
	queues       map[uuid.UUID]queue.Queue
	entries      map[uuid.UUID]queue.Entry
	appointments map[uuid.UUID]appointment.Appointment
}

type Option func(*Store)

// WithClock sets the source of created_at and updated_at stamps.
func WithClock(now clock.Func) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		locks:        keymutex.New(),
		now:          time.Now,
		services:     make(map[uuid.UUID]appointment.ServiceInfo),
		queues:       make(map[uuid.UUID]queue.Queue),
		entries:      make(map[uuid.UUID]queue.Entry),
		appointments: make(map[uuid.UUID]appointment.Appointment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Appointments returns the store as an appointment.Repository.
func (s *Store) Appointments() *AppointmentRepository {
	return &AppointmentRepository{store: s}
}

// Queues returns the store as a queue.Repository.
func (s *Store) Queues() *QueueRepository {
	return &QueueRepository{store: s}
}

// Seeding

func (s *Store) AddService(svc appointment.ServiceInfo) appointment.ServiceInfo {
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	s.mu.Lock()
	s.services[svc.ID] = svc
	s.mu.Unlock()
	return svc
}

func (s *Store) AddQueue(q queue.Queue) queue.Queue {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.Status == "" {
		q.Status = queue.QueueOpen
	}
	now := s.now()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = now
	}
	s.mu.Lock()
	s.queues[q.ID] = q
	s.mu.Unlock()
	return q
}

func (s *Store) AddAppointment(a appointment.Appointment) appointment.Appointment {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = appointment.StatusBooked
	}
	now := s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	s.mu.Lock()
	s.appointments[a.ID] = a
	s.mu.Unlock()
	return a
}

// Entries returns every entry of a queue in position order.
func (s *Store) Entries(queueID uuid.UUID) []queue.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []queue.Entry
	for _, e := range s.entries {
		if e.QueueID == queueID {
			out = append(out, e)
		}
	}
	sortEntries(out, func(a, b queue.Entry) bool { return a.Position < b.Position })
	return out
}

// AppointmentCount counts stored appointments of a professional, any status.
func (s *Store) AppointmentCount(professionalID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.appointments {
		if a.ProfessionalID == professionalID {
			n++
		}
	}
	return n
}

// HeldLocks reports how many lock keys are held or awaited.
func (s *Store) HeldLocks() int {
	return s.locks.Len()
}

// txState tracks the locks and undo records of one transaction.
type txState struct {
	store *Store
	held  map[string]struct{}
	order []string
	undo  []func()
}

func (s *Store) begin() *txState {
	return &txState{store: s, held: make(map[string]struct{})}
}

// lock acquires key for the rest of the transaction. Re-locking a key the
// transaction already holds is a no-op.
func (t *txState) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.store.locks.Lock(ctx, key); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	t.order = append(t.order, key)
	return nil
}

// record must be called with store.mu held.
func (t *txState) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *txState) finish(commit bool) {
	if !commit && len(t.undo) > 0 {
		t.store.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		t.store.mu.Unlock()
	}
	for i := len(t.order) - 1; i >= 0; i-- {
		t.store.locks.Unlock(t.order[i])
	}
	t.held = nil
	t.order = nil
	t.undo = nil
}

// run executes fn and commits when it returns nil. A panic rolls back and
// is re-raised.
func (t *txState) run(fn func() error) (err error) {
	committed := false
	defer func() {
		if !committed {
			t.finish(false)
		}
	}()

	if err = fn(); err != nil {
		return err
	}
	committed = true
	t.finish(true)
	return nil
}

func professionalKey(id uuid.UUID) string { return "professional:" + id.String() }
func appointmentKey(id uuid.UUID) string  { return "appointment:" + id.String() }
func queueKey(id uuid.UUID) string        { return "queue:" + id.String() }
func queueHeadKey(id uuid.UUID) string    { return "queue-head:" + id.String() }
func entryKey(id uuid.UUID) string        { return "entry:" + id.String() }
