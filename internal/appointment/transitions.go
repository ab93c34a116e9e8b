package appointment

type action string

const (
	actionCheckIn  action = "check_in"
	actionStart    action = "start"
	actionComplete action = "complete"
	actionCancel   action = "cancel"
	actionNoShow   action = "no_show"
)

var transitionMap = map[action]struct {
	from []AppointmentStatus
	to   AppointmentStatus
}{
	actionCheckIn:  {from: []AppointmentStatus{StatusBooked}, to: StatusCheckedIn},
	actionStart:    {from: []AppointmentStatus{StatusCheckedIn}, to: StatusInProgress},
	actionComplete: {from: []AppointmentStatus{StatusInProgress}, to: StatusCompleted},
	actionCancel:   {from: []AppointmentStatus{StatusBooked, StatusCheckedIn}, to: StatusCancelled},
	actionNoShow:   {from: []AppointmentStatus{StatusBooked, StatusCheckedIn}, to: StatusNoShow},
}

// nextStatus returns the status an action leads to from the given status.
func nextStatus(a action, from AppointmentStatus) (AppointmentStatus, bool) {
	t, ok := transitionMap[a]
	if !ok {
		return "", false
	}
	for _, s := range t.from {
		if s == from {
			return t.to, true
		}
	}
	return "", false
}

// Startable reports whether CallNext may move an appointment to in_progress.
func Startable(s AppointmentStatus) bool {
	_, ok := nextStatus(actionStart, s)
	return ok
}

// StartableStatuses lists the statuses Startable accepts, for store queries.
func StartableStatuses() []string {
	from := transitionMap[actionStart].from
	out := make([]string, 0, len(from))
	for _, s := range from {
		out = append(out, string(s))
	}
	return out
}
