package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSlots(t *testing.T) {
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	closing := time.Date(2026, 3, 2, 10, 40, 0, 0, time.UTC)

	busy := []Appointment{
		{StartAt: open.Add(20 * time.Minute), EndAt: open.Add(50 * time.Minute), Status: StatusBooked},
		{StartAt: open, EndAt: open.Add(30 * time.Minute), Status: StatusCancelled},
	}

	slots := GenerateSlots(open, closing, 30*time.Minute, busy)

	// 09:00 and 09:30 overlap the 09:20 booking; 10:30 would end past close.
	require.Len(t, slots, 1)
	assert.Equal(t, open.Add(time.Hour), slots[0].StartAt)
}

func TestGenerateSlotsZeroDuration(t *testing.T) {
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Empty(t, GenerateSlots(open, open.Add(time.Hour), 0, nil))
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }

	tests := []struct {
		name         string
		aStart, aEnd int
		bStart, bEnd int
		want         bool
	}{
		{"identical", 0, 30, 0, 30, true},
		{"partial", 0, 30, 15, 45, true},
		{"contained", 0, 60, 15, 30, true},
		{"adjacent after", 0, 30, 30, 60, false},
		{"adjacent before", 30, 60, 0, 30, false},
		{"disjoint", 0, 10, 40, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(at(tt.aStart), at(tt.aEnd), at(tt.bStart), at(tt.bEnd)))
		})
	}
}

func TestBusinessHoursBounds(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)

	open, closing, err := BusinessHours{Open: "08:30", Close: "17:00"}.Bounds(time.Date(2026, 3, 2, 0, 0, 0, 0, loc), loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02T08:30:00-03:00", open.Format(time.RFC3339))
	assert.Equal(t, "2026-03-02T17:00:00-03:00", closing.Format(time.RFC3339))

	_, _, err = BusinessHours{Open: "9am", Close: "17:00"}.Bounds(open, loc)
	assert.ErrorIs(t, err, ErrInvalidBusinessHours)
}
