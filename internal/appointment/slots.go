package appointment

import (
	"fmt"
	"time"
)

// BusinessHours is a daily opening window in wall-clock HH:MM.
type BusinessHours struct {
	Open  string
	Close string
}

// Bounds resolves the window on the calendar day of date in loc.
func (h BusinessHours) Bounds(date time.Time, loc *time.Location) (time.Time, time.Time, error) {
	open, err := time.Parse("15:04", h.Open)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: open %q", ErrInvalidBusinessHours, h.Open)
	}
	closing, err := time.Parse("15:04", h.Close)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: close %q", ErrInvalidBusinessHours, h.Close)
	}
	if !open.Before(closing) {
		return time.Time{}, time.Time{}, ErrInvalidBusinessHours
	}

	y, m, d := date.In(loc).Date()
	start := time.Date(y, m, d, open.Hour(), open.Minute(), 0, 0, loc)
	end := time.Date(y, m, d, closing.Hour(), closing.Minute(), 0, 0, loc)
	return start, end, nil
}

// GenerateSlots lays fixed-width slots from open to close and drops every slot
// that overlaps a blocking appointment. A slot never extends past close.
func GenerateSlots(open, closing time.Time, duration time.Duration, busy []Appointment) []Slot {
	slots := make([]Slot, 0)
	if duration <= 0 {
		return slots
	}

	for start := open; !start.Add(duration).After(closing); start = start.Add(duration) {
		end := start.Add(duration)
		if overlapsAny(busy, start, end) {
			continue
		}
		slots = append(slots, Slot{StartAt: start, EndAt: end})
	}

	return slots
}

func overlapsAny(busy []Appointment, start, end time.Time) bool {
	for _, a := range busy {
		if !a.Status.Blocking() {
			continue
		}
		if a.Overlaps(start, end) {
			return true
		}
	}
	return false
}
