package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval, optionally
// firing once right away.
type IntervalSchedule struct {
	Interval  time.Duration
	Immediate bool

	fired bool
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// NewImmediateIntervalSchedule creates an IntervalSchedule whose first run is
// due at registration time.
func NewImmediateIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval, Immediate: true}
}

// Next returns the next scheduled time. Next is only called with the
// scheduler lock held.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	if s.Immediate && !s.fired {
		s.fired = true
		return t
	}
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}
