package queue_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-queue-engine/internal/apperror"
	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/clock"
	"github.com/hackgods/booking-queue-engine/internal/config"
	"github.com/hackgods/booking-queue-engine/internal/events"
	"github.com/hackgods/booking-queue-engine/internal/memstore"
	"github.com/hackgods/booking-queue-engine/internal/queue"
)

var opening = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *queue.Service
	store    *memstore.Store
	clock    *clock.Fake
	recorder *events.Recorder
	events   *events.Dispatcher
	queue    queue.Queue
}

// newFixture builds an open queue whose service takes 10 minutes.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewFake(opening)
	store := memstore.New(memstore.WithClock(clk.Now))
	rec := &events.Recorder{}
	disp := events.NewDispatcher(rec, 0, time.Second)
	t.Cleanup(func() { _ = disp.Close(context.Background()) })
	service := store.AddService(appointment.ServiceInfo{Name: "Consultation", DurationMinutes: 10})
	q := store.AddQueue(queue.Queue{
		EstablishmentID: uuid.New(),
		ServiceID:       &service.ID,
		Name:            "Walk-ins",
	})

	return &fixture{
		svc:      queue.NewService(store.Queues(), disp, config.DefaultScheduling(), queue.WithClock(clk.Now)),
		store:    store,
		clock:    clk,
		recorder: rec,
		events:   disp,
		queue:    q,
	}
}

// published waits for queued events to reach the recorder.
func (f *fixture) published(t *testing.T) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.events.Flush(ctx))
	return f.recorder.Types()
}

func (f *fixture) join(t *testing.T, priority int) (*queue.JoinResult, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	res, err := f.svc.Join(context.Background(), queue.JoinInput{QueueID: f.queue.ID, UserID: &userID, Priority: priority})
	require.NoError(t, err)
	return res, userID
}

func TestJoinAssignsSequentialPositions(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 3; i++ {
		res, _ := f.join(t, 0)
		assert.Equal(t, i, res.Position)
		assert.Equal(t, queue.EntryWaiting, res.Status)
		assert.Equal(t, (i-1)*10, res.EstimatedWaitMinutes)
	}
	assert.Equal(t, []string{events.QueueJoined, events.QueueJoined, events.QueueJoined}, f.published(t))
}

func TestJoinAnonymous(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Join(context.Background(), queue.JoinInput{QueueID: f.queue.ID})
	require.NoError(t, err)
	assert.Nil(t, res.UserID)
	assert.Equal(t, 1, res.Position)
}

func TestJoinWithoutServiceUsesDefaultDuration(t *testing.T) {
	f := newFixture(t)
	bare := f.store.AddQueue(queue.Queue{EstablishmentID: uuid.New(), Name: "No service"})

	for i := 0; i < 2; i++ {
		res, err := f.svc.Join(context.Background(), queue.JoinInput{QueueID: bare.ID})
		require.NoError(t, err)
		assert.Equal(t, i*15, res.EstimatedWaitMinutes)
	}
}

func TestJoinRejectsNegativePriority(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Join(context.Background(), queue.JoinInput{QueueID: f.queue.ID, Priority: -1})
	require.ErrorIs(t, err, queue.ErrInvalidPriority)
	assert.Equal(t, apperror.InvalidInput, apperror.KindOf(err))
	assert.Empty(t, f.store.Entries(f.queue.ID))
}

func TestJoinUnknownQueue(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Join(context.Background(), queue.JoinInput{QueueID: uuid.New()})
	require.ErrorIs(t, err, queue.ErrQueueNotFound)
	assert.Equal(t, apperror.NotFound, apperror.KindOf(err))
}

func TestJoinClosedQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	closed, err := f.svc.Close(ctx, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.QueueClosed, closed.Status)

	_, err = f.svc.Join(ctx, queue.JoinInput{QueueID: f.queue.ID})
	require.ErrorIs(t, err, queue.ErrQueueClosed)
	assert.Equal(t, apperror.Conflict, apperror.KindOf(err))

	_, err = f.svc.Open(ctx, f.queue.ID)
	require.NoError(t, err)
	f.join(t, 0)
}

func TestJoinConcurrentPositionsAreUnique(t *testing.T) {
	f := newFixture(t)
	const joiners = 60

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions []int
	)
	start := make(chan struct{})

	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			userID := uuid.New()
			res, err := f.svc.Join(context.Background(), queue.JoinInput{QueueID: f.queue.ID, UserID: &userID})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			positions = append(positions, res.Position)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	sort.Ints(positions)
	require.Len(t, positions, joiners)
	for i, p := range positions {
		assert.Equal(t, i+1, p)
	}
	assert.Zero(t, f.store.HeldLocks())
}

func TestCallNextOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.join(t, 0)
	f.clock.Advance(time.Minute)
	vip, _ := f.join(t, 10)
	f.clock.Advance(time.Minute)
	third, _ := f.join(t, 0)

	var called []uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := f.svc.CallNext(ctx, queue.CallNextInput{QueueID: f.queue.ID})
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, queue.CallQueueEntry, res.Kind)
		assert.Equal(t, queue.EntryCalled, res.Entry.Status)
		require.NotNil(t, res.Entry.CalledAt)
		called = append(called, res.Entry.ID)
	}
	assert.Equal(t, []uuid.UUID{vip.ID, first.ID, third.ID}, called)

	res, err := f.svc.CallNext(ctx, queue.CallNextInput{QueueID: f.queue.ID})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestCallNextUnknownQueue(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CallNext(context.Background(), queue.CallNextInput{QueueID: uuid.New()})
	require.ErrorIs(t, err, queue.ErrQueueNotFound)
}

func TestCallNextConcurrentCallersGetDistinctEntries(t *testing.T) {
	f := newFixture(t)
	const (
		waiting = 20
		callers = 30
	)
	for i := 0; i < waiting; i++ {
		f.join(t, i%3)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = make(map[uuid.UUID]int)
		empty int
	)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.svc.CallNext(context.Background(), queue.CallNextInput{QueueID: f.queue.ID})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res == nil {
				empty++
				return
			}
			seen[res.Entry.ID]++
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, seen, waiting)
	for id, n := range seen {
		assert.Equal(t, 1, n, "entry %s called more than once", id)
	}
	assert.Equal(t, callers-waiting, empty)
}

func TestCallNextPrefersCheckedInAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profID := uuid.New()
	checkin := opening

	appt := f.store.AddAppointment(appointment.Appointment{
		EstablishmentID: f.queue.EstablishmentID,
		ProfessionalID:  profID,
		UserID:          uuid.New(),
		StartAt:         opening.Add(5 * time.Minute),
		EndAt:           opening.Add(35 * time.Minute),
		Status:          appointment.StatusCheckedIn,
		CheckinAt:       &checkin,
	})
	// Outside the grace window.
	f.store.AddAppointment(appointment.Appointment{
		EstablishmentID: f.queue.EstablishmentID,
		ProfessionalID:  profID,
		UserID:          uuid.New(),
		StartAt:         opening.Add(2 * time.Hour),
		EndAt:           opening.Add(150 * time.Minute),
		Status:          appointment.StatusCheckedIn,
	})
	entry, _ := f.join(t, 10)

	in := queue.CallNextInput{
		QueueID:         f.queue.ID,
		EstablishmentID: &f.queue.EstablishmentID,
		ProfessionalID:  &profID,
	}

	res, err := f.svc.CallNext(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, queue.CallAppointment, res.Kind)
	assert.Nil(t, res.Entry)
	assert.Equal(t, appt.ID, res.Appointment.ID)
	assert.Equal(t, appointment.StatusInProgress, res.Appointment.Status)

	res, err = f.svc.CallNext(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, queue.CallQueueEntry, res.Kind)
	assert.Equal(t, entry.ID, res.Entry.ID)

	assert.Contains(t, f.published(t), events.AppointmentStarted)
	assert.Contains(t, f.published(t), events.QueueCalled)
}

func TestCallNextIgnoresAppointmentsWithoutProfessional(t *testing.T) {
	f := newFixture(t)
	f.store.AddAppointment(appointment.Appointment{
		EstablishmentID: f.queue.EstablishmentID,
		ProfessionalID:  uuid.New(),
		UserID:          uuid.New(),
		StartAt:         opening,
		EndAt:           opening.Add(30 * time.Minute),
		Status:          appointment.StatusCheckedIn,
	})

	res, err := f.svc.CallNext(context.Background(), queue.CallNextInput{QueueID: f.queue.ID, EstablishmentID: &f.queue.EstablishmentID})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, userID := f.join(t, 0)

	_, err := f.svc.Leave(ctx, res.ID, uuid.New())
	require.ErrorIs(t, err, queue.ErrNotEntryOwner)
	assert.Equal(t, apperror.Unauthorized, apperror.KindOf(err))

	left, err := f.svc.Leave(ctx, res.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, queue.EntryCancelled, left.Status)

	_, err = f.svc.Leave(ctx, res.ID, userID)
	require.ErrorIs(t, err, queue.ErrInvalidTransition)
	assert.Equal(t, apperror.InvalidState, apperror.KindOf(err))

	_, err = f.svc.Leave(ctx, uuid.New(), userID)
	require.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestLeaveAnonymousEntryIsUnauthorized(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Join(context.Background(), queue.JoinInput{QueueID: f.queue.ID})
	require.NoError(t, err)

	_, err = f.svc.Leave(context.Background(), res.ID, uuid.New())
	require.ErrorIs(t, err, queue.ErrNotEntryOwner)
}

func TestLeftEntryIsNotCalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, userID := f.join(t, 0)
	second, _ := f.join(t, 0)

	_, err := f.svc.Leave(ctx, first.ID, userID)
	require.NoError(t, err)

	res, err := f.svc.CallNext(ctx, queue.CallNextInput{QueueID: f.queue.ID})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, second.ID, res.Entry.ID)
}

func TestMarkServedAndNoShow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	waiting, _ := f.join(t, 0)

	_, err := f.svc.MarkServed(ctx, waiting.ID)
	require.ErrorIs(t, err, queue.ErrInvalidTransition)

	res, err := f.svc.CallNext(ctx, queue.CallNextInput{QueueID: f.queue.ID})
	require.NoError(t, err)

	f.clock.Advance(7 * time.Minute)
	served, err := f.svc.MarkServed(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.EntryServed, served.Status)
	require.NotNil(t, served.ServedAt)
	assert.True(t, served.ServedAt.Equal(opening.Add(7*time.Minute)))

	_, err = f.svc.MarkNoShow(ctx, served.ID)
	require.ErrorIs(t, err, queue.ErrInvalidTransition)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.join(t, 0)
	f.clock.Advance(time.Minute)
	mine, userID := f.join(t, 0)
	f.clock.Advance(time.Minute)
	f.join(t, 5)

	view, err := f.svc.Status(ctx, f.queue.ID, &userID)
	require.NoError(t, err)
	assert.Equal(t, queue.QueueOpen, view.QueueStatus)
	assert.Equal(t, 3, view.TotalWaiting)
	require.NotNil(t, view.UserPosition)
	assert.Equal(t, mine.Position, *view.UserPosition)
	require.NotNil(t, view.EstimatedWaitMinutes)
	// The priority entry and the earlier joiner are ahead.
	assert.Equal(t, 20, *view.EstimatedWaitMinutes)

	stranger := uuid.New()
	view, err = f.svc.Status(ctx, f.queue.ID, &stranger)
	require.NoError(t, err)
	assert.Nil(t, view.UserPosition)
	assert.Nil(t, view.EstimatedWaitMinutes)

	view, err = f.svc.Status(ctx, f.queue.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, view.TotalWaiting)

	_, err = f.svc.Status(ctx, uuid.New(), nil)
	require.ErrorIs(t, err, queue.ErrQueueNotFound)
}

func TestStatusCalledEntryHasNoWait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, userID := f.join(t, 0)
	f.join(t, 0)

	_, err := f.svc.CallNext(ctx, queue.CallNextInput{QueueID: f.queue.ID})
	require.NoError(t, err)

	view, err := f.svc.Status(ctx, f.queue.ID, &userID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.TotalWaiting)
	require.NotNil(t, view.EstimatedWaitMinutes)
	assert.Zero(t, *view.EstimatedWaitMinutes)
}

func TestListWaiting(t *testing.T) {
	f := newFixture(t)
	low, _ := f.join(t, 0)
	high, _ := f.join(t, 3)

	entries, err := f.svc.ListWaiting(context.Background(), f.queue.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, high.ID, entries[0].ID)
	assert.Equal(t, low.ID, entries[1].ID)
}

func TestOpenCloseIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		q, err := f.svc.Close(ctx, f.queue.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.QueueClosed, q.Status)
	}

	_, err := f.svc.Open(ctx, uuid.New())
	require.ErrorIs(t, err, queue.ErrQueueNotFound)
}

func TestPublisherFailureDoesNotFailJoin(t *testing.T) {
	f := newFixture(t)
	f.recorder.Err = errors.New("broker down")

	res, _ := f.join(t, 0)
	assert.Equal(t, 1, res.Position)
	assert.Len(t, f.store.Entries(f.queue.ID), 1)
}

type blockingPublisher struct {
	release   chan struct{}
	delivered chan events.Event
}

func (p blockingPublisher) Publish(ctx context.Context, ev events.Event) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.delivered <- ev
	return nil
}

func TestJoinDoesNotWaitForSlowPublisher(t *testing.T) {
	store := memstore.New()
	q := store.AddQueue(queue.Queue{EstablishmentID: uuid.New(), Name: "Front desk"})
	pub := blockingPublisher{release: make(chan struct{}), delivered: make(chan events.Event, 1)}
	svc := queue.NewService(store.Queues(), pub, config.DefaultScheduling())

	ctx, cancel := context.WithCancel(context.Background())
	started := time.Now()
	res, err := svc.Join(ctx, queue.JoinInput{QueueID: q.ID})
	elapsed := time.Since(started)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Position)
	assert.Less(t, elapsed, 500*time.Millisecond)

	// the caller leaving after commit must not drop the event
	cancel()
	close(pub.release)

	select {
	case ev := <-pub.delivered:
		assert.Equal(t, events.QueueJoined, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("queue.joined was never delivered")
	}
}

func TestCallNextSkipsBookedAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profID := uuid.New()

	booked := f.store.AddAppointment(appointment.Appointment{
		EstablishmentID: f.queue.EstablishmentID,
		ProfessionalID:  profID,
		UserID:          uuid.New(),
		StartAt:         opening,
		EndAt:           opening.Add(30 * time.Minute),
		Status:          appointment.StatusBooked,
	})
	entry, _ := f.join(t, 0)

	res, err := f.svc.CallNext(ctx, queue.CallNextInput{
		QueueID:         f.queue.ID,
		EstablishmentID: &f.queue.EstablishmentID,
		ProfessionalID:  &profID,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, queue.CallQueueEntry, res.Kind)
	assert.Equal(t, entry.ID, res.Entry.ID)

	stored, err := f.store.Appointments().GetAppointmentByID(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusBooked, stored.Status)
}
