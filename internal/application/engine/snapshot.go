package engine

import (
	"sort"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
	"github.com/vrlab/classroom-monitor/pkg/timeutil"
)

// StudentSnapshot is a read-only view of one observed student.
type StudentSnapshot struct {
	Key              string             `json:"key"`
	StudentID        string             `json:"student_id,omitempty"`
	StudentName      string             `json:"student_name,omitempty"`
	Status           activity.Status    `json:"status"`
	LastActivityAt   *time.Time         `json:"last_activity_at,omitempty"`
	InactiveFor      string             `json:"inactive_for"`
	EventCount       int                `json:"event_count"`
	Progress         int                `json:"progress"`
	ProgressHolding  bool               `json:"progress_completed"`
	HelpPhase        activity.HelpPhase `json:"help_phase"`
	HelpRequested    bool               `json:"help_requested"`
	HelpDotPersisted bool               `json:"help_dot_persisted"`
	FeedDegraded     bool               `json:"feed_degraded"`
}

// Snapshot returns the view of one student at now. Status is classified
// fresh rather than read from the last tick.
func (s *Supervisor) Snapshot(key string, now time.Time) (StudentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.observed[key]
	if !ok {
		return StudentSnapshot{}, shared.ErrStudentNotObserved
	}
	return s.snapshotLocked(t, now), nil
}

// Snapshots returns every observed student at now, ordered by key.
func (s *Supervisor) Snapshots(now time.Time) []StudentSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StudentSnapshot, 0, len(s.observed))
	for _, t := range s.observed {
		out = append(out, s.snapshotLocked(t, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// HelpDotIDs returns the students currently showing a dot, observed or not.
func (s *Supervisor) HelpDotIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, h := range s.help {
		if h.DotPersisted() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// HelpState returns the raised-hand state of a student.
func (s *Supervisor) HelpState(studentID string) activity.HelpState {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.help[studentID]
	if h.Phase == "" {
		h.Phase = activity.HelpQuiet
	}
	return h
}

func (s *Supervisor) snapshotLocked(t *tracked, now time.Time) StudentSnapshot {
	help := activity.HelpState{Phase: activity.HelpQuiet}
	if t.studentID != "" {
		if h := s.help[t.studentID]; !h.IsQuiet() {
			help = h
		}
	}

	snap := StudentSnapshot{
		Key:              t.key,
		StudentID:        t.studentID,
		StudentName:      t.studentName,
		Status:           s.config.Thresholds.Classify(t.window, help.HelpRequested(), now),
		InactiveFor:      timeutil.FormatInactive(nil, now),
		EventCount:       t.window.Len(),
		Progress:         t.progress.Value,
		ProgressHolding:  t.progress.Holding(),
		HelpPhase:        help.Phase,
		HelpRequested:    help.HelpRequested(),
		HelpDotPersisted: help.DotPersisted(),
		FeedDegraded:     t.feedError != nil,
	}
	if last, ok := t.window.LastActivityAt(); ok {
		snap.LastActivityAt = &last
		snap.InactiveFor = timeutil.FormatInactive(&last, now)
	}
	return snap
}
