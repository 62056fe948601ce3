package activity

import (
	"sort"
	"time"
)

// WindowCapacity is the number of most recent events a window retains.
const WindowCapacity = 30

// Window is the bounded, newest-first history of a student's events.
// The zero value is an empty window. Window is a value type: Add returns a
// new window and never mutates the receiver's backing array.
type Window struct {
	events []Event
}

// NewWindow builds a window from events in any order.
func NewWindow(events ...Event) Window {
	var w Window
	for _, e := range events {
		w = w.Add(e)
	}
	return w
}

// Add inserts e at its position by OccurredAt, newest first, and truncates
// to WindowCapacity. An event at the same instant as existing ones is placed
// in front of them. An event older than everything in a full window is
// dropped, as is an event whose non-empty ID is already retained.
func (w Window) Add(e Event) Window {
	if e.ID != "" && w.Contains(e.ID) {
		return w
	}

	// first index whose event is not newer than e
	idx := sort.Search(len(w.events), func(i int) bool {
		return !w.events[i].OccurredAt.After(e.OccurredAt)
	})
	if idx >= WindowCapacity {
		return w
	}

	size := len(w.events) + 1
	if size > WindowCapacity {
		size = WindowCapacity
	}
	next := make([]Event, 0, size)
	next = append(next, w.events[:idx]...)
	next = append(next, e)
	for _, rest := range w.events[idx:] {
		if len(next) == WindowCapacity {
			break
		}
		next = append(next, rest)
	}
	return Window{events: next}
}

// Contains reports whether an event with the given feed ID is retained.
func (w Window) Contains(id string) bool {
	for _, e := range w.events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Events returns a copy of the retained events, newest first.
func (w Window) Events() []Event {
	out := make([]Event, len(w.events))
	copy(out, w.events)
	return out
}

// Len returns the number of retained events.
func (w Window) Len() int {
	return len(w.events)
}

// IsEmpty reports whether no event has ever been retained.
func (w Window) IsEmpty() bool {
	return len(w.events) == 0
}

// LastActivityAt returns the timestamp of the newest event.
func (w Window) LastActivityAt() (time.Time, bool) {
	if len(w.events) == 0 {
		return time.Time{}, false
	}
	return w.events[0].OccurredAt, true
}

// HasRecentHelpSignal reports whether any retained help signal is younger
// than d at now.
func (w Window) HasRecentHelpSignal(now time.Time, d time.Duration) bool {
	for _, e := range w.events {
		if e.IsHelpSignal && within(e.OccurredAt, now, d) {
			return true
		}
	}
	return false
}

// within reports whether t is strictly younger than d at now. Events stamped
// after now count as within.
func within(t, now time.Time, d time.Duration) bool {
	return now.Sub(t) < d
}
