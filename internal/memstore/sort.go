package memstore

import (
	"sort"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/queue"
)

func sortEntries(entries []queue.Entry, less func(a, b queue.Entry) bool) {
	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
}

func sortAppointments(appts []appointment.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if !appts[i].StartAt.Equal(appts[j].StartAt) {
			return appts[i].StartAt.Before(appts[j].StartAt)
		}
		return appts[i].ID.String() < appts[j].ID.String()
	})
}

func callOrder(a, b queue.Entry) bool {
	return a.Ahead(b)
}
