package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/queue"
)

var errBoom = errors.New("boom")

func TestRollbackRestoresWrites(t *testing.T) {
	store := New()
	q := store.AddQueue(queue.Queue{EstablishmentID: uuid.New(), Name: "front desk"})
	ctx := context.Background()

	err := store.Queues().WithTx(ctx, func(ctx context.Context, tx queue.Tx) error {
		_, err := tx.LockQueue(ctx, q.ID)
		require.NoError(t, err)
		_, err = tx.InsertEntry(ctx, queue.Entry{ID: uuid.New(), QueueID: q.ID, Position: 1, Status: queue.EntryWaiting})
		require.NoError(t, err)
		_, err = tx.SetQueueStatus(ctx, q.ID, queue.QueueClosed)
		require.NoError(t, err)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	assert.Empty(t, store.Entries(q.ID))
	got, err := store.Queues().GetQueue(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.QueueOpen, got.Status)
	assert.Zero(t, store.HeldLocks())
}

func TestCommitKeepsWritesAndReleasesLocks(t *testing.T) {
	store := New()
	svc := store.AddService(appointment.ServiceInfo{Name: "cut", DurationMinutes: 30})
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	profID := uuid.New()

	err := store.Appointments().WithTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		require.NoError(t, tx.LockProfessional(ctx, profID))
		_, err := tx.Insert(ctx, appointment.Appointment{
			ID:             uuid.New(),
			ProfessionalID: profID,
			ServiceID:      svc.ID,
			StartAt:        start,
			EndAt:          start.Add(svc.Duration()),
			Status:         appointment.StatusBooked,
		})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 1, store.AppointmentCount(profID))
	assert.Zero(t, store.HeldLocks())
}

func TestLockIsReentrantWithinTx(t *testing.T) {
	store := New()
	profID := uuid.New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := store.Appointments().WithTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		require.NoError(t, tx.LockProfessional(ctx, profID))
		return tx.LockProfessional(ctx, profID)
	})
	require.NoError(t, err)
}

func TestInsertEntryRejectsDuplicatePosition(t *testing.T) {
	store := New()
	q := store.AddQueue(queue.Queue{EstablishmentID: uuid.New()})
	ctx := context.Background()

	err := store.Queues().WithTx(ctx, func(ctx context.Context, tx queue.Tx) error {
		if _, err := tx.InsertEntry(ctx, queue.Entry{ID: uuid.New(), QueueID: q.ID, Position: 1, Status: queue.EntryWaiting}); err != nil {
			return err
		}
		_, err := tx.InsertEntry(ctx, queue.Entry{ID: uuid.New(), QueueID: q.ID, Position: 1, Status: queue.EntryWaiting})
		return err
	})
	require.ErrorIs(t, err, ErrDuplicatePosition)
	assert.Empty(t, store.Entries(q.ID))
}

func TestLockHeadSkipsEntryLeftWhileWaiting(t *testing.T) {
	store := New()
	q := store.AddQueue(queue.Queue{EstablishmentID: uuid.New()})
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := queue.Entry{ID: uuid.New(), QueueID: q.ID, Position: 1, Status: queue.EntryWaiting, CreatedAt: base}
	second := queue.Entry{ID: uuid.New(), QueueID: q.ID, Position: 2, Status: queue.EntryWaiting, CreatedAt: base.Add(time.Second)}
	require.NoError(t, store.Queues().WithTx(ctx, func(ctx context.Context, tx queue.Tx) error {
		if _, err := tx.InsertEntry(ctx, first); err != nil {
			return err
		}
		_, err := tx.InsertEntry(ctx, second)
		return err
	}))

	holding := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := store.Queues().WithTx(ctx, func(ctx context.Context, tx queue.Tx) error {
			if _, err := tx.LockEntry(ctx, first.ID); err != nil {
				return err
			}
			close(holding)
			<-release
			_, err := tx.UpdateEntryStatus(ctx, first.ID, queue.EntryCancelled, base)
			return err
		})
		assert.NoError(t, err)
	}()

	<-holding
	var head *queue.Entry
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := store.Queues().WithTx(ctx, func(ctx context.Context, tx queue.Tx) error {
			var err error
			head, err = tx.LockHead(ctx, q.ID)
			return err
		})
		assert.NoError(t, err)
	}()

	close(release)
	wg.Wait()
	<-done

	require.NotNil(t, head)
	assert.Equal(t, second.ID, head.ID)
}

func TestListFiltersAndPages(t *testing.T) {
	store := New()
	profID := uuid.New()
	userID := uuid.New()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		store.AddAppointment(appointment.Appointment{
			ProfessionalID: profID,
			UserID:         userID,
			StartAt:        base.Add(time.Duration(i) * time.Hour),
			EndAt:          base.Add(time.Duration(i)*time.Hour + 30*time.Minute),
		})
	}
	store.AddAppointment(appointment.Appointment{
		ProfessionalID: uuid.New(),
		UserID:         userID,
		StartAt:        base,
		EndAt:          base.Add(time.Hour),
		Status:         appointment.StatusCancelled,
	})

	got, err := store.Appointments().List(context.Background(), appointment.ListFilter{
		ProfessionalID: &profID,
		Limit:          2,
		Offset:         1,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base.Add(time.Hour), got[0].StartAt)
	assert.Equal(t, base.Add(2*time.Hour), got[1].StartAt)

	cancelled, err := store.Appointments().List(context.Background(), appointment.ListFilter{
		UserID: &userID,
		Status: []appointment.AppointmentStatus{appointment.StatusCancelled},
	})
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)
}
