package saga

import (
	"strconv"
	"time"
)

// Instance is one run of a named workflow
type Instance struct {
	ID        string
	Name      string
	Status    InstanceStatus
	StartDate *time.Time
	EndDate   *time.Time
}

// IdempotencyKey builds the attempt key of the step at order in instanceID
func IdempotencyKey(instanceID string, order int) string {
	return "saga:" + instanceID + ":" + strconv.Itoa(order)
}

// Cancel aborts a non-terminal instance
func (i *Instance) Cancel(now time.Time) error {
	if i.Status.IsTerminal() {
		return &TransitionError{Entity: "SagaInstance", ID: i.ID, From: string(i.Status), To: string(InstanceCancelled)}
	}
	i.Status = InstanceCancelled
	i.EndDate = utc(now)
	return nil
}

// Sync re-derives status and dates from steps and reports whether anything
// changed. Terminal instances are left untouched.
func (i *Instance) Sync(steps []Step) bool {
	if i.Status.IsTerminal() {
		return false
	}

	status, start, end := Derive(steps)
	changed := status != i.Status || !sameTime(start, i.StartDate) || !sameTime(end, i.EndDate)

	i.Status = status
	i.StartDate = start
	i.EndDate = end
	return changed
}

// Derive computes the instance status from its steps:
//   - a step FAILED with no attempts left makes the instance FAILED
//   - all steps SUCCEEDED makes it COMPLETED
//   - any started step makes it RUNNING
//   - otherwise it is PENDING
//
// The start date is the earliest step start; the end date is the latest step
// end and is only set for FAILED and COMPLETED.
func Derive(steps []Step) (InstanceStatus, *time.Time, *time.Time) {
	var start, end *time.Time
	started := false
	failed := false
	succeeded := 0

	for idx := range steps {
		s := &steps[idx]
		if s.StartDate != nil {
			started = true
			if start == nil || s.StartDate.Before(*start) {
				start = s.StartDate
			}
		}
		if s.Status != StepPending {
			started = true
		}
		if s.EndDate != nil && (end == nil || s.EndDate.After(*end)) {
			end = s.EndDate
		}
		switch {
		case s.IsExhausted():
			failed = true
		case s.Status == StepSucceeded:
			succeeded++
		}
	}

	switch {
	case failed:
		return InstanceFailed, start, end
	case len(steps) > 0 && succeeded == len(steps):
		return InstanceCompleted, start, end
	case started:
		return InstanceRunning, start, nil
	default:
		return InstancePending, nil, nil
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
