package activity

import (
	"sort"
	"time"
)

// Status is a student's behavioral status. Exactly one holds at any instant.
type Status string

const (
	StatusActive     Status = "active"
	StatusIdle       Status = "idle"
	StatusHesitant   Status = "hesitant"
	StatusPersistent Status = "persistent"
	StatusStruggling Status = "struggling"
)

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusHesitant, StatusPersistent, StatusStruggling:
		return true
	}
	return false
}

// Thresholds are the heuristic constants of the classifier.
type Thresholds struct {
	// IdleAfter: the newest event at least this old means idle.
	IdleAfter time.Duration

	// ActiveWindow / ActiveMinEvents: a burst of recent events means active.
	ActiveWindow    time.Duration
	ActiveMinEvents int

	// HesitantWindow / HesitantMaxEvents / HesitantGap: a few events with a
	// long pause between two of them means hesitant.
	HesitantWindow    time.Duration
	HesitantMaxEvents int
	HesitantGap       time.Duration

	// PersistentWindow is split into PersistentBuckets buckets of
	// PersistentBucket each; at least PersistentMinBuckets populated
	// buckets means persistent.
	PersistentWindow     time.Duration
	PersistentBucket     time.Duration
	PersistentBuckets    int
	PersistentMinBuckets int
}

// DefaultThresholds returns the classroom-calibrated constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IdleAfter:            3 * time.Minute,
		ActiveWindow:         10 * time.Second,
		ActiveMinEvents:      2,
		HesitantWindow:       60 * time.Second,
		HesitantMaxEvents:    3,
		HesitantGap:          20 * time.Second,
		PersistentWindow:     120 * time.Second,
		PersistentBucket:     30 * time.Second,
		PersistentBuckets:    4,
		PersistentMinBuckets: 2,
	}
}

// Classify derives the status from the window with the default thresholds.
func Classify(w Window, helpRequested bool, now time.Time) Status {
	return DefaultThresholds().Classify(w, helpRequested, now)
}

// Classify derives the status. The first matching rule wins:
//
//  1. struggling if a hand is raised
//  2. idle if there was never an event or the newest is too old
//  3. active on a burst of recent events
//  4. hesitant on a few recent events with a long pause between two of them
//  5. persistent on steady events spread over several buckets
//  6. otherwise hesitant if anything happened in the hesitant window, else idle
//
// "Within d" means strictly younger than d. Classify is pure.
func (t Thresholds) Classify(w Window, helpRequested bool, now time.Time) Status {
	if helpRequested {
		return StatusStruggling
	}

	last, ok := w.LastActivityAt()
	if !ok || now.Sub(last) >= t.IdleAfter {
		return StatusIdle
	}

	events := w.events

	if countWithin(events, now, t.ActiveWindow) >= t.ActiveMinEvents {
		return StatusActive
	}

	recent := timesWithin(events, now, t.HesitantWindow)
	if len(recent) >= 1 && len(recent) <= t.HesitantMaxEvents && hasGap(recent, t.HesitantGap) {
		return StatusHesitant
	}

	if countWithin(events, now, t.PersistentWindow) > 0 &&
		t.populatedBuckets(events, now) >= t.PersistentMinBuckets {
		return StatusPersistent
	}

	if len(recent) > 0 {
		return StatusHesitant
	}
	return StatusIdle
}

// populatedBuckets counts buckets [now-(i+1)*b, now-i*b) holding an event.
func (t Thresholds) populatedBuckets(events []Event, now time.Time) int {
	populated := 0
	for i := 0; i < t.PersistentBuckets; i++ {
		start := now.Add(-time.Duration(i+1) * t.PersistentBucket)
		end := now.Add(-time.Duration(i) * t.PersistentBucket)
		for _, e := range events {
			if !e.OccurredAt.Before(start) && e.OccurredAt.Before(end) {
				populated++
				break
			}
		}
	}
	return populated
}

func countWithin(events []Event, now time.Time, d time.Duration) int {
	n := 0
	for _, e := range events {
		if within(e.OccurredAt, now, d) {
			n++
		}
	}
	return n
}

func timesWithin(events []Event, now time.Time, d time.Duration) []time.Time {
	var out []time.Time
	for _, e := range events {
		if within(e.OccurredAt, now, d) {
			out = append(out, e.OccurredAt)
		}
	}
	return out
}

// hasGap reports whether two consecutive times, in ascending order, are at
// least gap apart.
func hasGap(times []time.Time, gap time.Duration) bool {
	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Sub(sorted[i-1]) >= gap {
			return true
		}
	}
	return false
}
