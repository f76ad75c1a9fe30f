package domain

// Status is the lifecycle state of a reminder.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusSnoozed   Status = "snoozed"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
)

// transitions is the full state machine. Completed→Active is the recurring
// re-arm path and is only taken by the service when the repeat limit allows
// it; Deleted has no outgoing edges.
var transitions = map[Status][]Status{
	StatusActive:    {StatusPaused, StatusSnoozed, StatusCompleted, StatusDeleted},
	StatusPaused:    {StatusActive, StatusDeleted},
	StatusSnoozed:   {StatusActive, StatusCompleted, StatusDeleted},
	StatusCompleted: {StatusActive, StatusDeleted},
	StatusDeleted:   {},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Transition validates a status change and returns the new status.
func Transition(cur, next Status) (Status, error) {
	if !cur.CanTransitionTo(next) {
		return cur, Errorf(KindValidation, "invalid status transition %s -> %s", cur, next)
	}
	return next, nil
}
