package activity

import "time"

// Progress constants.
const (
	ProgressStep      = 5
	ProgressMilestone = 20
	ProgressMax       = 100

	// ProgressHold is how long a completed task stays at 100 before reset.
	ProgressHold = 2 * time.Second
)

// Progress is a session-only task counter in [0, ProgressMax]. On reaching
// the maximum it holds for ProgressHold, ignoring further events, then
// completes exactly once and resets to zero.
type Progress struct {
	Value       int
	CompletedAt time.Time // zero unless holding at the maximum
}

// Holding reports whether the counter is waiting out the completion hold.
func (p Progress) Holding() bool {
	return !p.CompletedAt.IsZero()
}

// HoldDeadline returns when the hold ends.
func (p Progress) HoldDeadline() (time.Time, bool) {
	if !p.Holding() {
		return time.Time{}, false
	}
	return p.CompletedAt.Add(ProgressHold), true
}

// OnEvent applies an event of the given kind. It returns the next value,
// whether the value moved, and whether this event started a hold.
func (p Progress) OnEvent(kind Kind, now time.Time) (next Progress, moved, reachedMax bool) {
	if p.Holding() {
		return p, false, false
	}

	step := ProgressStep
	if kind.IsMilestone() {
		step = ProgressMilestone
	}

	value := p.Value + step
	if value > ProgressMax {
		value = ProgressMax
	}

	next = Progress{Value: value}
	if value == ProgressMax {
		next.CompletedAt = now
		return next, value != p.Value, true
	}
	return next, value != p.Value, false
}

// OnHoldElapsed completes a held counter and resets it. Outside a hold it
// does nothing and reports false.
func (p Progress) OnHoldElapsed() (Progress, bool) {
	if !p.Holding() {
		return p, false
	}
	return Progress{}, true
}
