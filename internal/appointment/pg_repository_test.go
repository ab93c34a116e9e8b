package appointment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/clock"
	"github.com/hackgods/booking-queue-engine/internal/config"
	"github.com/hackgods/booking-queue-engine/internal/db/dbtest"
)

func TestPgCreateConcurrentOverlaps(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()
	serviceID := dbtest.InsertService(t, pool, "Haircut", 30)
	svc := appointment.NewService(appointment.NewPgRepository(pool), nil, config.DefaultScheduling())

	profID := uuid.New()
	estID := uuid.New()
	starts := []string{
		"2026-03-02T10:00:00Z",
		"2026-03-02T10:10:00Z",
		"2026-03-02T10:20:00Z",
		"2026-03-02T09:45:00Z",
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	gate := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			_, err := svc.Create(ctx, appointment.CreateInput{
				EstablishmentID: estID,
				ProfessionalID:  profID,
				ServiceID:       serviceID,
				UserID:          uuid.New(),
				StartAt:         starts[i%len(starts)],
			})
			if err == nil {
				successes.Add(1)
				return
			}
			assert.True(t, errors.Is(err, appointment.ErrAppointmentConflict), "unexpected error: %v", err)
		}(i)
	}
	close(gate)
	wg.Wait()

	// Every candidate overlaps every other one, so exactly one wins.
	assert.Equal(t, int32(1), successes.Load())

	var rows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE professional_id = $1`, profID).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestPgCheckInAndSweep(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()
	serviceID := dbtest.InsertService(t, pool, "Consultation", 20)

	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	svc := appointment.NewService(appointment.NewPgRepository(pool), nil, config.DefaultScheduling(), appointment.WithClock(clk.Now))

	userID := uuid.New()
	create := func(start string) *appointment.Appointment {
		appt, err := svc.Create(ctx, appointment.CreateInput{
			EstablishmentID: uuid.New(),
			ProfessionalID:  uuid.New(),
			ServiceID:       serviceID,
			UserID:          userID,
			StartAt:         start,
		})
		require.NoError(t, err)
		return appt
	}

	onTime := create("2026-03-02T09:00:00Z")
	missed := create("2026-03-02T08:30:00Z")

	clk.Set(time.Date(2026, 3, 2, 8, 55, 0, 0, time.UTC))
	checked, err := svc.CheckIn(ctx, onTime.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCheckedIn, checked.Status)
	require.NotNil(t, checked.CheckinAt)

	n, err := svc.ExpireMissedCheckIns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(ctx, missed.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusNoShow, got.Status)

	list, err := svc.List(ctx, appointment.ListFilter{UserID: &userID, Status: []appointment.AppointmentStatus{appointment.StatusCheckedIn}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, onTime.ID, list[0].ID)
}

func TestPgAvailableSlots(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()
	serviceID := dbtest.InsertService(t, pool, "Massage", 60)
	svc := appointment.NewService(appointment.NewPgRepository(pool), nil, config.DefaultScheduling())
	profID := uuid.New()

	_, err := svc.Create(ctx, appointment.CreateInput{
		EstablishmentID: uuid.New(),
		ProfessionalID:  profID,
		ServiceID:       serviceID,
		UserID:          uuid.New(),
		StartAt:         "2026-03-02T10:00:00Z",
	})
	require.NoError(t, err)

	slots, err := svc.AvailableSlots(ctx, appointment.SlotsQuery{
		ProfessionalID: profID,
		ServiceID:      serviceID,
		Date:           "2026-03-02",
		Hours:          &appointment.BusinessHours{Open: "09:00", Close: "12:00"},
	})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 9, slots[0].StartAt.UTC().Hour())
	assert.Equal(t, 11, slots[1].StartAt.UTC().Hour())
}
